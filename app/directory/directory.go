// Package directory is the guild/member/role view of Discord used by the
// verification engine.
package directory

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
)

// ErrNotFound is returned when Discord has no such guild, member or role.
var ErrNotFound = errors.New("not found")

// Directory reads and mutates the roles of members in a guild.
type Directory interface {
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	Members(ctx context.Context, guildID string) ([]*discordgo.Member, error)
	Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	// SendDM opens (or reuses) the private channel with userID and posts msg.
	SendDM(ctx context.Context, userID string, msg *discordgo.MessageSend) error
}

// RoleByName returns the first role named name, or nil.
func RoleByName(roles []*discordgo.Role, name string) *discordgo.Role {
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}
