package verification

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imAETHER/FormVerifier/app/directory/directorytest"
)

const (
	guildID = "100"
	roleID  = "200"
)

func newEngine(t *testing.T) (*Engine, *directorytest.Directory) {
	t.Helper()
	dir := directorytest.New(guildID, "Test Guild")
	dir.AddGuildRole("1", "@everyone")
	dir.AddGuildRole(roleID, "Verified")
	return NewEngine(dir, guildID, "Verified"), dir
}

func TestGrant_AddsRoleOnceAndNotifies(t *testing.T) {
	e, dir := newEngine(t)
	dir.AddMember("42", "alice")

	out, m, err := e.Grant(context.Background(), "42", SourceForm)
	require.NoError(t, err)
	assert.Equal(t, Granted, out)
	assert.Equal(t, "alice", m.User.Username)
	assert.Equal(t, []string{"42"}, dir.Added)
	assert.True(t, dir.HasRole("42", roleID))

	require.Len(t, dir.DMs["42"], 1)
	dm := dir.DMs["42"][0]
	require.Len(t, dm.Embeds, 1)
	assert.Equal(t, "Verification Complete!", dm.Embeds[0].Title)
	assert.Contains(t, dm.Embeds[0].Description, "**Test Guild**")
}

func TestGrant_AlreadyVerifiedIsNoop(t *testing.T) {
	e, dir := newEngine(t)
	dir.AddMember("42", "alice", roleID)

	out, _, err := e.Grant(context.Background(), "42", SourceForm)
	require.NoError(t, err)
	assert.Equal(t, AlreadyVerified, out)
	assert.Empty(t, dir.Added)
	assert.Empty(t, dir.DMs)
}

func TestGrant_Twice(t *testing.T) {
	e, dir := newEngine(t)
	dir.AddMember("42", "alice")

	first, _, err := e.Grant(context.Background(), "42", SourceForm)
	require.NoError(t, err)
	second, _, err := e.Grant(context.Background(), "42", SourceForm)
	require.NoError(t, err)

	assert.Equal(t, Granted, first)
	assert.Equal(t, AlreadyVerified, second)
	assert.Len(t, dir.Added, 1)
}

func TestGrant_DMFailureIsSwallowed(t *testing.T) {
	e, dir := newEngine(t)
	dir.AddMember("42", "alice")
	dir.DMErr = errors.New("50007: Cannot send messages to this user")

	out, _, err := e.Grant(context.Background(), "42", SourceForm)
	require.NoError(t, err)
	assert.Equal(t, Granted, out)
	assert.True(t, dir.HasRole("42", roleID))
}

func TestGrant_ManualSourceSendsPlainDM(t *testing.T) {
	e, dir := newEngine(t)
	dir.AddMember("42", "alice")

	_, _, err := e.Grant(context.Background(), "42", SourceManual)
	require.NoError(t, err)

	require.Len(t, dir.DMs["42"], 1)
	assert.Equal(t, "You've been manually verified in **Test Guild**!", dir.DMs["42"][0].Content)
}

func TestGrant_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*directorytest.Directory) *Engine
		wantErr error
	}{
		{
			name: "unknown guild",
			setup: func(d *directorytest.Directory) *Engine {
				return NewEngine(d, "999", "Verified")
			},
			wantErr: ErrGuildNotFound,
		},
		{
			name: "unknown member",
			setup: func(d *directorytest.Directory) *Engine {
				return NewEngine(d, guildID, "Verified")
			},
			wantErr: ErrMemberNotFound,
		},
		{
			name: "unknown role",
			setup: func(d *directorytest.Directory) *Engine {
				d.AddMember("42", "alice")
				return NewEngine(d, guildID, "Members")
			},
			wantErr: ErrRoleNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := directorytest.New(guildID, "Test Guild")
			dir.AddGuildRole(roleID, "Verified")
			e := tc.setup(dir)

			_, _, err := e.Grant(context.Background(), "42", SourceForm)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, dir.Added)
		})
	}
}

func TestGrant_AddRoleErrorPropagates(t *testing.T) {
	e, dir := newEngine(t)
	dir.AddMember("42", "alice")
	dir.AddRoleErr = errors.New("missing permissions")

	_, _, err := e.Grant(context.Background(), "42", SourceForm)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing permissions")
	assert.Empty(t, dir.DMs)
}

func TestRevoke(t *testing.T) {
	e, dir := newEngine(t)
	dir.AddMember("42", "alice", roleID)
	dir.AddMember("43", "bob")

	out, _, err := e.Revoke(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, Revoked, out)
	assert.False(t, dir.HasRole("42", roleID))

	out, _, err = e.Revoke(context.Background(), "43")
	require.NoError(t, err)
	assert.Equal(t, NotVerified, out)
	assert.Equal(t, []string{"42"}, dir.Removed)
}

func TestVerified_FiltersByRole(t *testing.T) {
	e, dir := newEngine(t)
	for i := 0; i < 5; i++ {
		roles := []string{}
		if i%2 == 0 {
			roles = append(roles, roleID)
		}
		dir.AddMember(fmt.Sprint(i), fmt.Sprintf("user%d", i), roles...)
	}

	got, err := e.Verified(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "user0", got[0].User.Username)
	assert.Equal(t, "user4", got[2].User.Username)
}

func TestHasRole(t *testing.T) {
	e, _ := newEngine(t)

	ok, err := e.HasRole(context.Background(), []string{"1", roleID})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.HasRole(context.Background(), []string{"1"})
	require.NoError(t, err)
	assert.False(t, ok)

	dir := directorytest.New(guildID, "Test Guild")
	ok, err = NewEngine(dir, guildID, "Verified").HasRole(context.Background(), []string{roleID})
	require.NoError(t, err)
	assert.False(t, ok)
}
