package internal

import (
	"strings"
	"time"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`
	AdminAddr  string `env:"ADMIN_ADDR,default=:8081"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER,default=chat-relay"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`

	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	RateLimitCeiling int           `env:"RATE_LIMIT_CEILING,default=10"`

	SendBuffer        int           `env:"SEND_BUFFER,default=256"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	MessagesPerSecond float64       `env:"MESSAGES_PER_SECOND,default=25"`
	MessageBurst      int           `env:"MESSAGE_BURST,default=50"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS"` // comma-separated, empty allows all
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	LogLevel string `env:"LOG_LEVEL,default=INFO"`
}

// Origins parses the comma-separated origin allowlist.
func (c Config) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
