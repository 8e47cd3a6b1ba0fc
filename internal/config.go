package internal

import (
	"chat-relay/runtime/workers"
	"fmt"
	"time"
)

type Config struct {
	Host       string `env:"HOST,default=0.0.0.0"`
	Port       int    `env:"PORT,default=4040"`
	HealthPort int    `env:"HEALTH_PORT,default=4041"`
	LogLevel   string `env:"LOG_LEVEL,default=INFO"`

	JwtSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=720h"`
	TokenCookieName   string        `env:"TOKEN_COOKIE_NAME,default=token"`
	CookieSecure      bool          `env:"COOKIE_SECURE,default=true"`
	ClientURL         string        `env:"CLIENT_URL"`

	PingInterval    time.Duration `env:"PING_INTERVAL,default=5s"`
	PongGracePeriod time.Duration `env:"PONG_GRACE_PERIOD,default=1s"`

	BadgerFilepath     string        `env:"BADGER_FILEPATH,required=true"`
	UploadsDir         string        `env:"UPLOADS_DIR,required=true"`
	MaxMessageSize     int64         `env:"MAX_MESSAGE_SIZE,default=16777216"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT,default=5s"`
	ValueLogGCInterval time.Duration `env:"VALUE_LOG_GC_INTERVAL,default=10m"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms"`

	PresenceIncludeAnonymous bool `env:"PRESENCE_INCLUDE_ANONYMOUS,default=true"`
	BroadcastOnGracefulClose bool `env:"BROADCAST_ON_GRACEFUL_CLOSE,default=false"`
}

// Validate checks the rules go-env cannot express.
func (c Config) Validate() error {
	if err := workers.ValidateHeartbeat(c.PingInterval, c.PongGracePeriod); err != nil {
		return err
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}
	if c.ValueLogGCInterval <= 0 {
		return fmt.Errorf("VALUE_LOG_GC_INTERVAL must be positive, got %s", c.ValueLogGCInterval)
	}
	if c.Port == c.HealthPort {
		return fmt.Errorf("PORT and HEALTH_PORT must differ, both are %d", c.Port)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) HealthAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HealthPort)
}
