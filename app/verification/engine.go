// Package verification grants and revokes the verified role.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bwmarrin/discordgo"

	"github.com/imAETHER/FormVerifier/app/directory"
)

var (
	ErrGuildNotFound  = errors.New("guild not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrRoleNotFound   = errors.New("role not found")
)

type Outcome int

const (
	Granted Outcome = iota + 1
	AlreadyVerified
	Revoked
	NotVerified
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case AlreadyVerified:
		return "already_verified"
	case Revoked:
		return "revoked"
	case NotVerified:
		return "not_verified"
	}
	return "unknown"
}

// Source says who asked for a grant; it picks the DM the member receives.
type Source int

const (
	SourceForm Source = iota
	SourceManual
)

func (s Source) String() string {
	if s == SourceManual {
		return "manual"
	}
	return "form"
}

const colorGreen = 3066993

// Engine owns the verified role of one guild.
type Engine struct {
	dir      directory.Directory
	guildID  string
	roleName string
}

func NewEngine(dir directory.Directory, guildID, roleName string) *Engine {
	return &Engine{dir: dir, guildID: guildID, roleName: roleName}
}

func (e *Engine) GuildID() string  { return e.guildID }
func (e *Engine) RoleName() string { return e.roleName }

// Grant gives userID the verified role and DMs them. Members that already hold
// the role are left untouched and get no DM.
func (e *Engine) Grant(ctx context.Context, userID string, src Source) (Outcome, *discordgo.Member, error) {
	guild, member, role, err := e.resolve(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	if slices.Contains(member.Roles, role.ID) {
		slog.Info("Member already verified", slog.String("user", member.User.Username), slog.String("user_id", userID))
		return AlreadyVerified, member, nil
	}

	if err := e.dir.AddRole(ctx, e.guildID, userID, role.ID); err != nil {
		return 0, member, fmt.Errorf("add verified role: %w", err)
	}
	slog.Info("Verified member",
		slog.String("user", member.User.Username),
		slog.String("user_id", userID),
		slog.String("source", src.String()),
	)

	if err := e.dir.SendDM(ctx, userID, grantNotice(guild, src)); err != nil {
		slog.Warn("Could not DM verified member, DMs are probably disabled",
			slog.String("user", member.User.Username), slog.Any("err", err))
	}

	return Granted, member, nil
}

// Revoke takes the verified role away from userID.
func (e *Engine) Revoke(ctx context.Context, userID string) (Outcome, *discordgo.Member, error) {
	_, member, role, err := e.resolve(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	if !slices.Contains(member.Roles, role.ID) {
		return NotVerified, member, nil
	}

	if err := e.dir.RemoveRole(ctx, e.guildID, userID, role.ID); err != nil {
		return 0, member, fmt.Errorf("remove verified role: %w", err)
	}

	return Revoked, member, nil
}

// Verified lists every guild member currently holding the role.
func (e *Engine) Verified(ctx context.Context) ([]*discordgo.Member, error) {
	role, err := e.Role(ctx)
	if err != nil {
		return nil, err
	}

	members, err := e.dir.Members(ctx, e.guildID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	var out []*discordgo.Member
	for _, m := range members {
		if slices.Contains(m.Roles, role.ID) {
			out = append(out, m)
		}
	}
	return out, nil
}

// HasRole reports whether roleIDs include the verified role. A guild without
// the role counts as "not verified".
func (e *Engine) HasRole(ctx context.Context, roleIDs []string) (bool, error) {
	role, err := e.Role(ctx)
	if errors.Is(err, ErrRoleNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(roleIDs, role.ID), nil
}

// Role looks the verified role up by name.
func (e *Engine) Role(ctx context.Context) (*discordgo.Role, error) {
	roles, err := e.dir.Roles(ctx, e.guildID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrGuildNotFound, e.guildID)
	}
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	role := directory.RoleByName(roles, e.roleName)
	if role == nil {
		return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, e.roleName)
	}
	return role, nil
}

func (e *Engine) resolve(ctx context.Context, userID string) (*discordgo.Guild, *discordgo.Member, *discordgo.Role, error) {
	guild, err := e.dir.Guild(ctx, e.guildID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrGuildNotFound, e.guildID)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve guild: %w", err)
	}

	member, err := e.dir.Member(ctx, e.guildID, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrMemberNotFound, userID)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve member: %w", err)
	}

	role, err := e.Role(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	return guild, member, role, nil
}

func grantNotice(guild *discordgo.Guild, src Source) *discordgo.MessageSend {
	if src == SourceManual {
		return &discordgo.MessageSend{
			Content: fmt.Sprintf("You've been manually verified in **%s**!", guild.Name),
		}
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Verification Complete!",
			Description: fmt.Sprintf("You now have access to ticket channels in **%s**!\n\nYou can now create tickets using the Ticket Tool.", guild.Name),
			Color:       colorGreen,
		}},
	}
}
