package models

// VerifyRequest is what the form script posts to /verify.
type VerifyRequest struct {
	DiscordID string `json:"discord_id"`
}

type VerifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	User    string `json:"user,omitempty"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	BotReady     bool   `json:"bot_ready"`
	GuildID      int64  `json:"guild_id"`
	VerifiedRole string `json:"verified_role"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusHealthy = "healthy"
)
