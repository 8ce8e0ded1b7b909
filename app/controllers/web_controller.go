package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/imAETHER/FormVerifier/app/models"
	"github.com/imAETHER/FormVerifier/app/verification"
)

// Granter is the slice of the verification engine the webhook needs.
type Granter interface {
	Grant(ctx context.Context, userID string, src verification.Source) (verification.Outcome, *discordgo.Member, error)
}

// WebController serves the form webhook and the health probe. The webhook is
// unauthenticated: anyone who can reach it can verify any existing member, so
// keep it behind a firewall or proxy that only lets the form service through.
type WebController struct {
	granter  Granter
	guildID  int64
	roleName string
	ready    func() bool
}

func NewWebController(g Granter, guildID int64, roleName string, ready func() bool) *WebController {
	return &WebController{granter: g, guildID: guildID, roleName: roleName, ready: ready}
}

// NewApp builds the fiber app with both routes mounted.
func NewApp(wc *WebController) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "FormVerifier v1.0",
		DisableStartupMessage: true,
		ErrorHandler:          handleError,
	})

	app.Use(recover.New())

	app.Post("/verify", wc.HandleVerifyPOST)
	app.Get("/health", wc.HandleHealth)

	return app
}

func (wc *WebController) HandleHealth(ctx *fiber.Ctx) error {
	return ctx.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:       models.StatusHealthy,
		BotReady:     wc.ready(),
		GuildID:      wc.guildID,
		VerifiedRole: wc.roleName,
	})
}

func (wc *WebController) HandleVerifyPOST(ctx *fiber.Ctx) error {
	log := slog.With(slog.String("request_id", uuid.NewString()))

	var req models.VerifyRequest
	if err := json.Unmarshal(ctx.Body(), &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "discord_id" {
			log.Warn("Invalid discord_id type", slog.String("type", typeErr.Value))
			return replyError(ctx, fiber.StatusBadRequest, "Invalid discord_id")
		}
		log.Warn("Invalid webhook body", slog.Any("err", err))
		return replyError(ctx, fiber.StatusBadRequest, "Invalid JSON body")
	}

	raw := strings.TrimSpace(req.DiscordID)
	if raw == "" {
		log.Warn("No discord_id in request")
		return replyError(ctx, fiber.StatusBadRequest, "No discord_id provided")
	}

	if !isInteger(raw) {
		log.Warn("Invalid discord_id format", slog.String("discord_id", raw))
		return replyError(ctx, fiber.StatusBadRequest, "Invalid discord_id")
	}

	// Well-formed integers that can't be a snowflake (negative, too large)
	// simply match no member.
	id, err := strconv.ParseUint(strings.TrimPrefix(raw, "+"), 10, 64)
	if err != nil {
		log.Warn("Member not found in guild", slog.String("discord_id", raw))
		return replyError(ctx, fiber.StatusNotFound, "Member not found")
	}
	userID := strconv.FormatUint(id, 10)

	log.Info("Received verification", slog.String("user_id", userID))

	outcome, member, err := wc.granter.Grant(ctx.UserContext(), userID, verification.SourceForm)
	switch {
	case errors.Is(err, verification.ErrGuildNotFound):
		log.Error("Guild not found", slog.Int64("guild_id", wc.guildID))
		return replyError(ctx, fiber.StatusInternalServerError, "Guild not found")
	case errors.Is(err, verification.ErrMemberNotFound):
		log.Warn("Member not found in guild", slog.String("user_id", userID))
		return replyError(ctx, fiber.StatusNotFound, "Member not found")
	case errors.Is(err, verification.ErrRoleNotFound):
		log.Error("Role not found", slog.String("role", wc.roleName))
		return replyError(ctx, fiber.StatusInternalServerError, "Role not found")
	case err != nil:
		return err
	}

	res := models.VerifyResponse{Status: models.StatusSuccess, User: userTag(member.User)}
	if outcome == verification.AlreadyVerified {
		res.Message = "Already verified"
	}
	return ctx.Status(fiber.StatusOK).JSON(res)
}

// isInteger accepts an optional sign followed by ASCII digits.
func isInteger(s string) bool {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func replyError(ctx *fiber.Ctx, status int, msg string) error {
	return ctx.Status(status).JSON(models.VerifyResponse{
		Status:  models.StatusError,
		Message: msg,
	})
}

// handleError turns anything a handler returned (or panicked with) into the
// same JSON shape the webhook uses.
func handleError(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("Error in webhook handler",
			slog.String("method", ctx.Method()),
			slog.String("path", ctx.Path()),
			slog.Any("err", err),
		)
	}

	return replyError(ctx, code, err.Error())
}

// userTag renders a user the way Discord shows them: plain username for
// migrated accounts, name#discriminator for legacy ones.
func userTag(u *discordgo.User) string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}
