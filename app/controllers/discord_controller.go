package controllers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fatih/color"

	"github.com/imAETHER/FormVerifier/app/config"
	"github.com/imAETHER/FormVerifier/app/verification"
)

// Discord embeds hold at most 25 fields.
const maxListedMembers = 25

// Commands are acknowledged right away, so the real reply only has to land
// before the 15 minute interaction token expires.
const commandTimeout = 30 * time.Second

const (
	colorBlue  = 3447003
	colorGreen = 3066993

	msgNoPermission = "You don't have permission to use this command."
	msgWrongGuild   = "This bot only serves its configured server."
	msgInternal     = "Something has gone wrong with the bot, please alert an admin"
)

// Verifier is the part of the verification engine the commands use.
type Verifier interface {
	Granter
	Revoke(ctx context.Context, userID string) (verification.Outcome, *discordgo.Member, error)
	Verified(ctx context.Context) ([]*discordgo.Member, error)
	HasRole(ctx context.Context, roleIDs []string) (bool, error)
}

var (
	manageRolesPerm int64 = discordgo.PermissionManageRoles
	dmPermsFalse          = false

	commands = []*discordgo.ApplicationCommand{
		{
			DMPermission: &dmPermsFalse,
			Name:         "verify",
			Description:  "Complete the verification form to access ticket channels",
		},
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &manageRolesPerm,
			Name:                     "manual_verify",
			Description:              "Manually verify a user (Admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The user to verify",
					Required:    true,
				},
			},
		},
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &manageRolesPerm,
			Name:                     "verified_users",
			Description:              "List verified users (Admin only)",
		},
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &manageRolesPerm,
			Name:                     "unverify",
			Description:              "Remove verification from a user (Admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The user to unverify",
					Required:    true,
				},
			},
		},
	}
)

type commandHandler func(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponseData

// DiscordController answers the slash commands and tracks gateway readiness.
type DiscordController struct {
	cfg      *config.Config
	verifier Verifier

	commandHandlers map[string]commandHandler
	privileged      map[string]bool
	commandTimeout  time.Duration

	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once
}

func NewDiscordController(cfg *config.Config, v Verifier) *DiscordController {
	d := &DiscordController{
		cfg:        cfg,
		verifier:   v,
		privileged:     map[string]bool{},
		commandTimeout: commandTimeout,
		readyCh:        make(chan struct{}),
	}

	d.commandHandlers = map[string]commandHandler{
		"verify":         d.handleVerify,
		"manual_verify":  d.handleManualVerify,
		"verified_users": d.handleVerifiedUsers,
		"unverify":       d.handleUnverify,
	}
	for _, c := range commands {
		d.privileged[c.Name] = c.DefaultMemberPermissions != nil
	}

	return d
}

// Attach subscribes the controller to gateway events. Call before Open.
func (d *DiscordController) Attach(s *discordgo.Session) {
	s.AddHandler(d.onReady)
	s.AddHandler(func(s *discordgo.Session, _ *discordgo.Resumed) {
		d.ready.Store(true)
		slog.Info("Gateway session resumed")
	})
	s.AddHandler(func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.ready.Store(false)
		slog.Warn("Disconnected from gateway")
	})
	s.AddHandler(d.onInteraction)
}

// Ready reports whether the gateway connection is currently up.
func (d *DiscordController) Ready() bool {
	return d.ready.Load()
}

// WaitReady blocks until the first Ready event or ctx is done.
func (d *DiscordController) WaitReady(ctx context.Context) error {
	select {
	case <-d.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for discord ready: %w", ctx.Err())
	}
}

// RegisterCommands creates the slash commands on the configured guild.
func (d *DiscordController) RegisterCommands(s *discordgo.Session) int {
	synced := 0
	for _, v := range commands {
		if _, err := s.ApplicationCommandCreate(s.State.User.ID, d.cfg.GuildSnowflake(), v); err != nil {
			slog.Warn("Cannot create", slog.String("command", v.Name), slog.Any("err", err))
			continue
		}
		synced++
	}
	slog.Info("Synced commands", slog.Int("count", synced))
	return synced
}

func (d *DiscordController) onReady(s *discordgo.Session, r *discordgo.Ready) {
	color.Green("[i | Login] Connected to %s", userTag(r.User))
	slog.Info("Verification bot is online",
		slog.Int64("guild_id", d.cfg.GuildID),
		slog.String("verified_role", d.cfg.VerifiedRoleName),
		slog.String("form_entry_id", d.cfg.FormEntryID),
	)

	if err := s.UpdateGameStatus(0, "/verify to get access"); err != nil {
		slog.Warn("Failed to set bot status", slog.Any("err", err))
	}

	d.ready.Store(true)
	d.readyOnce.Do(func() { close(d.readyCh) })
}

// interactionResponder is the part of *discordgo.Session used to answer
// interactions.
type interactionResponder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func (d *DiscordController) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	d.respond(s, i)
}

// respond acknowledges the command with an ephemeral "thinking" reply first,
// then runs it and edits the acknowledgement into the real answer.
func (d *DiscordController) respond(r interactionResponder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	if _, ok := d.commandHandlers[name]; !ok {
		return
	}

	if err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		slog.Warn("Failed to acknowledge interaction",
			slog.String("command", name),
			slog.String("channel_id", i.ChannelID),
			slog.Any("err", err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.commandTimeout)
	defer cancel()

	data := d.Handle(ctx, i)
	if data == nil {
		return
	}

	if _, err := r.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &data.Content,
		Embeds:  &data.Embeds,
	}); err != nil {
		slog.Warn("Failed to respond to interaction",
			slog.String("command", name),
			slog.String("channel_id", i.ChannelID),
			slog.Any("err", err),
		)
	}
}

// Handle runs the command in i and returns the reply, or nil for commands
// this bot doesn't own.
func (d *DiscordController) Handle(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponseData {
	name := i.ApplicationCommandData().Name
	handler, ok := d.commandHandlers[name]
	if !ok {
		return nil
	}

	if d.privileged[name] && !canManageRoles(i.Member) {
		return ephemeral(msgNoPermission)
	}

	if i.GuildID != d.cfg.GuildSnowflake() || i.Member == nil || i.Member.User == nil {
		return ephemeral(msgWrongGuild)
	}

	return handler(ctx, i)
}

func (d *DiscordController) handleVerify(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponseData {
	user := i.Member.User

	verified, err := d.verifier.HasRole(ctx, i.Member.Roles)
	if err != nil {
		slog.Error("Failed to check verified role", slog.String("user_id", user.ID), slog.Any("err", err))
		return ephemeral(msgInternal)
	}
	if verified {
		return ephemeral("✅ You're already verified and have access to ticket channels!")
	}

	link, err := verification.FormLink(d.cfg.FormURL, d.cfg.FormEntryID, user.ID)
	if err != nil {
		slog.Error("FORM_URL or FORM_ENTRY_ID not set correctly", slog.Any("err", err))
		return ephemeral("Verification form is not properly configured")
	}

	slog.Info("Sent form", slog.String("user", user.Username), slog.String("user_id", user.ID))

	return &discordgo.InteractionResponseData{
		Flags: discordgo.MessageFlagsEphemeral,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Verification Form",
			Description: "Complete the Social Engineering Pre-Assignment Assessment to get verified and access ticket channels.",
			Color:       colorBlue,
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "Step 1: Complete the Form",
					Value: fmt.Sprintf("[Click here to open the assessment form](%s)\n\n", link) +
						"The form includes questions about your comfort level and knowledge of social engineering practices.",
				},
				{
					Name:  "⏱ Step 2: Wait for Verification",
					Value: "After submitting the form, you'll be automatically verified **within seconds** and receive access to ticket channels!",
				},
			},
			Footer: &discordgo.MessageEmbedFooter{
				Text: "Your responses help us understand your background with social engineering",
			},
		}},
	}
}

func (d *DiscordController) handleManualVerify(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponseData {
	userID, ok := optionUserID(i, "user")
	if !ok {
		return ephemeral("Please pick a user to verify.")
	}

	outcome, member, err := d.verifier.Grant(ctx, userID, verification.SourceManual)
	if err != nil {
		return d.lookupFailure(userID, err)
	}

	if outcome == verification.AlreadyVerified {
		return ephemeral(fmt.Sprintf("ℹ %s is already verified.", member.Mention()))
	}

	slog.Info("Manually verified member",
		slog.String("by", i.Member.User.Username),
		slog.String("user", member.User.Username),
	)
	return ephemeral(fmt.Sprintf("Manually verified %s", member.Mention()))
}

func (d *DiscordController) handleVerifiedUsers(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponseData {
	members, err := d.verifier.Verified(ctx)
	if err != nil {
		return d.lookupFailure("", err)
	}

	if len(members) == 0 {
		return ephemeral("No verified users yet!")
	}

	return &discordgo.InteractionResponseData{
		Flags:  discordgo.MessageFlagsEphemeral,
		Embeds: []*discordgo.MessageEmbed{verifiedListEmbed(members)},
	}
}

func (d *DiscordController) handleUnverify(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponseData {
	userID, ok := optionUserID(i, "user")
	if !ok {
		return ephemeral("Please pick a user to unverify.")
	}

	outcome, member, err := d.verifier.Revoke(ctx, userID)
	if err != nil {
		return d.lookupFailure(userID, err)
	}

	if outcome == verification.NotVerified {
		return ephemeral(fmt.Sprintf("%s is not verified.", member.Mention()))
	}

	slog.Info("Removed verification",
		slog.String("by", i.Member.User.Username),
		slog.String("user", member.User.Username),
	)
	return ephemeral(fmt.Sprintf("Removed verification from %s", member.Mention()))
}

func (d *DiscordController) lookupFailure(userID string, err error) *discordgo.InteractionResponseData {
	switch {
	case errors.Is(err, verification.ErrRoleNotFound):
		return ephemeral(fmt.Sprintf("Role '%s' not found!", d.cfg.VerifiedRoleName))
	case errors.Is(err, verification.ErrMemberNotFound):
		return ephemeral("Member not found")
	}

	slog.Error("Command failed", slog.String("user_id", userID), slog.Any("err", err))
	return ephemeral(msgInternal)
}

func verifiedListEmbed(members []*discordgo.Member) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Verified Users",
		Description: fmt.Sprintf("**%d** user(s) have completed verification", len(members)),
		Color:       colorGreen,
	}

	for _, m := range members[:min(len(members), maxListedMembers)] {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   m.User.Username,
			Value:  m.Mention(),
			Inline: true,
		})
	}

	if len(members) > maxListedMembers {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Showing %d of %d verified users", maxListedMembers, len(members)),
		}
	}

	return embed
}

func canManageRoles(m *discordgo.Member) bool {
	if m == nil {
		return false
	}
	return m.Permissions&(discordgo.PermissionManageRoles|discordgo.PermissionAdministrator) != 0
}

func optionUserID(i *discordgo.InteractionCreate, name string) (string, bool) {
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name != name || o.Type != discordgo.ApplicationCommandOptionUser {
			continue
		}
		id, ok := o.Value.(string)
		return id, ok && id != ""
	}
	return "", false
}

func ephemeral(content string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Flags:   discordgo.MessageFlagsEphemeral,
		Content: content,
	}
}
