package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the sync service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	// ChannelBase prefixes every Redis channel/key and NATS subject so
	// multiple deployments can share one broker.
	ChannelBase string

	// PresenceHeartbeat is how often a live session refreshes its key;
	// PresenceTTL is how long the key survives without a refresh. TTL must
	// comfortably exceed the heartbeat so a single missed beat does not
	// count as a disconnect.
	PresenceHeartbeat time.Duration
	PresenceTTL       time.Duration
	JanitorInterval   time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHATSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "ChatSync API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "chatsync")
	v.SetDefault("presence.heartbeat", "3s")
	v.SetDefault("presence.ttl", "10s")
	v.SetDefault("janitor.interval", "5s")

	heartbeat, err := parseDuration(v, "presence.heartbeat")
	if err != nil {
		return Config{}, err
	}
	ttl, err := parseDuration(v, "presence.ttl")
	if err != nil {
		return Config{}, err
	}
	janitor, err := parseDuration(v, "janitor.interval")
	if err != nil {
		return Config{}, err
	}
	if ttl <= heartbeat {
		return Config{}, fmt.Errorf("presence ttl (%s) must exceed the heartbeat interval (%s)", ttl, heartbeat)
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		ChannelBase:       v.GetString("channel.base"),
		PresenceHeartbeat: heartbeat,
		PresenceTTL:       ttl,
		JanitorInterval:   janitor,
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return parsed, nil
}
