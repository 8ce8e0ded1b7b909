package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/bwmarrin/discordgo"
)

// Discord guild member listing caps a single page at 1000.
const memberPageSize = 1000

// Discord is a Directory backed by a live discordgo session. Reads hit the
// state cache first and fall back to the REST API. Cached objects are copied
// under the state lock since the gateway goroutine keeps updating them.
type Discord struct {
	s *discordgo.Session
}

func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{s: s}
}

func (d *Discord) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if d.s.State != nil {
		if g, err := d.s.State.Guild(guildID); err == nil {
			d.s.State.RLock()
			cp := *g
			d.s.State.RUnlock()
			return &cp, nil
		}
	}

	g, err := d.s.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap("guild "+guildID, err)
	}
	return g, nil
}

func (d *Discord) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if d.s.State != nil {
		if m, err := d.s.State.Member(guildID, userID); err == nil {
			d.s.State.RLock()
			cp := *m
			cp.Roles = slices.Clone(m.Roles)
			d.s.State.RUnlock()
			return &cp, nil
		}
	}

	m, err := d.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap("member "+userID, err)
	}
	return m, nil
}

func (d *Discord) Members(ctx context.Context, guildID string) ([]*discordgo.Member, error) {
	var (
		all   []*discordgo.Member
		after string
	)
	for {
		page, err := d.s.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, wrap("members of "+guildID, err)
		}
		all = append(all, page...)
		if len(page) < memberPageSize {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (d *Discord) Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if d.s.State != nil {
		if g, err := d.s.State.Guild(guildID); err == nil {
			d.s.State.RLock()
			roles := slices.Clone(g.Roles)
			d.s.State.RUnlock()
			if len(roles) > 0 {
				return roles, nil
			}
		}
	}

	roles, err := d.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap("roles of "+guildID, err)
	}
	return roles, nil
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := d.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return wrap("add role "+roleID+" to "+userID, err)
	}
	return nil
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := d.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return wrap("remove role "+roleID+" from "+userID, err)
	}
	return nil
}

func (d *Discord) SendDM(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	ch, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return wrap("dm channel for "+userID, err)
	}

	if _, err := d.s.ChannelMessageSendComplex(ch.ID, msg, discordgo.WithContext(ctx)); err != nil {
		return wrap("dm to "+userID, err)
	}
	return nil
}

// wrap maps Discord 404s onto ErrNotFound so callers can use errors.Is.
func wrap(what string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
