package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(r *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

// recordedAPI answers REST calls by path and keeps the requests it saw.
type recordedAPI struct {
	mu       sync.Mutex
	requests []*http.Request
	routes   map[string]func(*http.Request) (int, string)
}

func (a *recordedAPI) seen() []*http.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*http.Request(nil), a.requests...)
}

func newTestDiscord(t *testing.T, routes map[string]func(*http.Request) (int, string)) (*Discord, *discordgo.Session, *recordedAPI) {
	t.Helper()

	s, err := discordgo.New("Bot test-token")
	require.NoError(t, err)
	s.MaxRestRetries = 0

	api := &recordedAPI{routes: routes}
	s.Client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		api.mu.Lock()
		api.requests = append(api.requests, r)
		api.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/api/v"+discordgo.APIVersion)
		route, ok := routes[r.Method+" "+path]
		if !ok {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
			return jsonResponse(r, http.StatusInternalServerError, `{"message":"unexpected"}`), nil
		}
		code, body := route(r)
		return jsonResponse(r, code, body), nil
	})}

	return NewDiscord(s), s, api
}

func memberPage(from, n int) string {
	parts := make([]string, 0, n)
	for id := from; id < from+n; id++ {
		parts = append(parts, fmt.Sprintf(`{"user":{"id":"%d","username":"user%d"},"roles":["200"]}`, id, id))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestDiscord_MembersFollowsPages(t *testing.T) {
	d, _, api := newTestDiscord(t, map[string]func(*http.Request) (int, string){
		"GET /guilds/100/members": func(r *http.Request) (int, string) {
			switch r.URL.Query().Get("after") {
			case "":
				return http.StatusOK, memberPage(1, memberPageSize)
			case "1000":
				return http.StatusOK, memberPage(1001, 5)
			}
			return http.StatusBadRequest, `{"message":"bad cursor"}`
		},
	})

	members, err := d.Members(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, members, memberPageSize+5)
	assert.Equal(t, "1", members[0].User.ID)
	assert.Equal(t, "1005", members[len(members)-1].User.ID)

	reqs := api.seen()
	require.Len(t, reqs, 2)
	assert.Equal(t, "", reqs[0].URL.Query().Get("after"))
	assert.Equal(t, "1000", reqs[0].URL.Query().Get("limit"))
	assert.Equal(t, "1000", reqs[1].URL.Query().Get("after"))
}

func TestDiscord_MembersStopsOnShortFirstPage(t *testing.T) {
	d, _, api := newTestDiscord(t, map[string]func(*http.Request) (int, string){
		"GET /guilds/100/members": func(*http.Request) (int, string) {
			return http.StatusOK, memberPage(1, 3)
		},
	})

	members, err := d.Members(context.Background(), "100")
	require.NoError(t, err)
	assert.Len(t, members, 3)
	assert.Len(t, api.seen(), 1)
}

func TestDiscord_CacheMissFallsBackToAPI(t *testing.T) {
	routes := map[string]func(*http.Request) (int, string){
		"GET /guilds/100/members/42": func(*http.Request) (int, string) {
			return http.StatusOK, `{"user":{"id":"42","username":"alice"},"roles":["200"]}`
		},
		"GET /guilds/100/members/43": func(*http.Request) (int, string) {
			return http.StatusNotFound, `{"message":"Unknown Member","code":10007}`
		},
		"GET /guilds/100/roles": func(*http.Request) (int, string) {
			return http.StatusOK, `[{"id":"1","name":"@everyone"},{"id":"200","name":"Verified"}]`
		},
		"GET /guilds/999": func(*http.Request) (int, string) {
			return http.StatusNotFound, `{"message":"Unknown Guild","code":10004}`
		},
	}

	tests := []struct {
		name    string
		call    func(*Discord) (any, error)
		check   func(t *testing.T, got any)
		wantErr error
	}{
		{
			name: "member",
			call: func(d *Discord) (any, error) { return d.Member(context.Background(), "100", "42") },
			check: func(t *testing.T, got any) {
				m := got.(*discordgo.Member)
				assert.Equal(t, "alice", m.User.Username)
				assert.Equal(t, []string{"200"}, m.Roles)
			},
		},
		{
			name:    "unknown member",
			call:    func(d *Discord) (any, error) { return d.Member(context.Background(), "100", "43") },
			wantErr: ErrNotFound,
		},
		{
			name: "roles",
			call: func(d *Discord) (any, error) { return d.Roles(context.Background(), "100") },
			check: func(t *testing.T, got any) {
				r := RoleByName(got.([]*discordgo.Role), "Verified")
				require.NotNil(t, r)
				assert.Equal(t, "200", r.ID)
			},
		},
		{
			name:    "unknown guild",
			call:    func(d *Discord) (any, error) { return d.Guild(context.Background(), "999") },
			wantErr: ErrNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, _, api := newTestDiscord(t, routes)

			got, err := tc.call(d)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				tc.check(t, got)
			}
			assert.Len(t, api.seen(), 1)
		})
	}
}

func TestDiscord_ReadsStateCacheFirst(t *testing.T) {
	d, s, api := newTestDiscord(t, map[string]func(*http.Request) (int, string){})

	require.NoError(t, s.State.GuildAdd(&discordgo.Guild{
		ID:    "100",
		Name:  "Test Guild",
		Roles: []*discordgo.Role{{ID: "200", Name: "Verified"}},
	}))
	require.NoError(t, s.State.MemberAdd(&discordgo.Member{
		GuildID: "100",
		User:    &discordgo.User{ID: "42", Username: "alice"},
		Roles:   []string{"200"},
	}))

	g, err := d.Guild(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, "Test Guild", g.Name)

	roles, err := d.Roles(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, roles, 1)

	m, err := d.Member(context.Background(), "100", "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"200"}, m.Roles)

	// Callers get a copy, not the cached member.
	m.Roles[0] = "changed"
	cached, err := s.State.Member("100", "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"200"}, cached.Roles)

	assert.Empty(t, api.seen())
}
