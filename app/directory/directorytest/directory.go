// Package directorytest provides an in-memory directory.Directory for tests.
package directorytest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/imAETHER/FormVerifier/app/directory"
)

// Directory holds one guild worth of members and roles. The zero value is not
// usable; build it with New.
type Directory struct {
	mu sync.Mutex

	guild   *discordgo.Guild
	members map[string]*discordgo.Member
	order   []string

	// Failure injection.
	DMErr      error
	AddRoleErr error
	// BlockDM makes SendDM hang until its context is done.
	BlockDM bool

	// Call recording.
	Added   []string
	Removed []string
	DMs     map[string][]*discordgo.MessageSend
}

func New(guildID, guildName string) *Directory {
	return &Directory{
		guild:   &discordgo.Guild{ID: guildID, Name: guildName},
		members: map[string]*discordgo.Member{},
		DMs:     map[string][]*discordgo.MessageSend{},
	}
}

// AddGuildRole creates a role in the guild and returns it.
func (d *Directory) AddGuildRole(id, name string) *discordgo.Role {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := &discordgo.Role{ID: id, Name: name}
	d.guild.Roles = append(d.guild.Roles, r)
	return r
}

// AddMember puts a member with the given roles into the guild.
func (d *Directory) AddMember(userID, username string, roleIDs ...string) *discordgo.Member {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := &discordgo.Member{
		GuildID: d.guild.ID,
		User:    &discordgo.User{ID: userID, Username: username, Discriminator: "0"},
		Roles:   slices.Clone(roleIDs),
	}
	if _, ok := d.members[userID]; !ok {
		d.order = append(d.order, userID)
	}
	d.members[userID] = m
	return m
}

// HasRole reports whether userID currently holds roleID.
func (d *Directory) HasRole(userID, roleID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[userID]
	return ok && slices.Contains(m.Roles, roleID)
}

func (d *Directory) Guild(_ context.Context, guildID string) (*discordgo.Guild, error) {
	if guildID != d.guild.ID {
		return nil, fmt.Errorf("guild %s: %w", guildID, directory.ErrNotFound)
	}
	return d.guild, nil
}

func (d *Directory) Member(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[userID]
	if guildID != d.guild.ID || !ok {
		return nil, fmt.Errorf("member %s: %w", userID, directory.ErrNotFound)
	}
	cp := *m
	cp.Roles = slices.Clone(m.Roles)
	return &cp, nil
}

func (d *Directory) Members(_ context.Context, guildID string) ([]*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if guildID != d.guild.ID {
		return nil, fmt.Errorf("members of %s: %w", guildID, directory.ErrNotFound)
	}
	out := make([]*discordgo.Member, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.members[id])
	}
	return out, nil
}

func (d *Directory) Roles(_ context.Context, guildID string) ([]*discordgo.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if guildID != d.guild.ID {
		return nil, fmt.Errorf("roles of %s: %w", guildID, directory.ErrNotFound)
	}
	return slices.Clone(d.guild.Roles), nil
}

func (d *Directory) AddRole(_ context.Context, guildID, userID, roleID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.AddRoleErr != nil {
		return d.AddRoleErr
	}
	m, ok := d.members[userID]
	if guildID != d.guild.ID || !ok {
		return fmt.Errorf("add role %s to %s: %w", roleID, userID, directory.ErrNotFound)
	}
	d.Added = append(d.Added, userID)
	if !slices.Contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (d *Directory) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[userID]
	if guildID != d.guild.ID || !ok {
		return fmt.Errorf("remove role %s from %s: %w", roleID, userID, directory.ErrNotFound)
	}
	d.Removed = append(d.Removed, userID)
	m.Roles = slices.DeleteFunc(m.Roles, func(id string) bool { return id == roleID })
	return nil
}

func (d *Directory) SendDM(ctx context.Context, userID string, msg *discordgo.MessageSend) error {
	d.mu.Lock()
	block := d.BlockDM
	d.mu.Unlock()
	if block {
		<-ctx.Done()
		return fmt.Errorf("dm to %s: %w", userID, ctx.Err())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.DMErr != nil {
		return fmt.Errorf("dm to %s: %w", userID, d.DMErr)
	}
	d.DMs[userID] = append(d.DMs[userID], msg)
	return nil
}
