// Package config loads runtime configuration from environment variables
// and an optional .env file. Every policy knob of the chat engine lives
// here so that deployments can tune cooldowns, ban escalation, and log
// bounds without rebuilding.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EscalationStep maps a strike count to the ban applied at that count.
// A zero Ban with Permanent=false means "strike recorded, no ban".
type EscalationStep struct {
	Strikes   int
	Ban       time.Duration
	Permanent bool
}

// Config holds all runtime settings for the chat server.
type Config struct {
	ListenAddr      string
	MetricsAddr     string
	RedisAddr       string
	NATSURL         string // empty disables NATS fanout
	PostgresURL     string // empty keeps the in-memory store
	AdminSecret     string
	SessionSecret   string
	AccountTokenTTL time.Duration
	GuestTokenTTL   time.Duration

	AccountCooldown time.Duration // min interval between sends, accounts
	GuestCooldown   time.Duration // min interval between sends, guests
	LinkWindow      time.Duration // one URL-bearing message per window

	EditWindow   time.Duration // edit/delete window after creation
	HistoryLimit int           // messages retained per thread

	IdleTimeout       time.Duration // online -> idle after this inactivity
	HeartbeatInterval time.Duration
	MaxConnections    int
	FrameRate         float64 // inbound frames/sec per connection
	FrameBurst        int

	FilterTerms []string // hard-filter terms, words or phrases
	Escalation  []EscalationStep
}

// DefaultEscalation is the ban escalation table applied when none is
// configured: first strike records only, then timed bans, then permanent.
func DefaultEscalation() []EscalationStep {
	return []EscalationStep{
		{Strikes: 1},
		{Strikes: 2, Ban: 10 * time.Minute},
		{Strikes: 3, Ban: 24 * time.Hour},
		{Strikes: 4, Permanent: true},
	}
}

// Load reads configuration with the CHAT_ env prefix. Defaults are suitable
// for local development; only the session secret is mandatory outside tests.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("nats_url", "")
	v.SetDefault("postgres_url", "")
	v.SetDefault("account_token_ttl", "168h")
	v.SetDefault("guest_token_ttl", "1h")
	v.SetDefault("account_cooldown", "2s")
	v.SetDefault("guest_cooldown", "5s")
	v.SetDefault("link_window", "5m")
	v.SetDefault("edit_window", "60s")
	v.SetDefault("history_limit", 300)
	v.SetDefault("idle_timeout", "120s")
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("max_connections", 10000)
	v.SetDefault("frame_rate", 20.0)
	v.SetDefault("frame_burst", 40)
	v.SetDefault("filter_terms", "")
	v.SetDefault("escalation", "1:0s,2:10m,3:24h,4:permanent")

	cfg := Config{
		ListenAddr:        v.GetString("listen_addr"),
		MetricsAddr:       v.GetString("metrics_addr"),
		RedisAddr:         v.GetString("redis_addr"),
		NATSURL:           v.GetString("nats_url"),
		PostgresURL:       v.GetString("postgres_url"),
		AdminSecret:       v.GetString("admin_secret"),
		SessionSecret:     v.GetString("session_secret"),
		AccountTokenTTL:   v.GetDuration("account_token_ttl"),
		GuestTokenTTL:     v.GetDuration("guest_token_ttl"),
		AccountCooldown:   v.GetDuration("account_cooldown"),
		GuestCooldown:     v.GetDuration("guest_cooldown"),
		LinkWindow:        v.GetDuration("link_window"),
		EditWindow:        v.GetDuration("edit_window"),
		HistoryLimit:      v.GetInt("history_limit"),
		IdleTimeout:       v.GetDuration("idle_timeout"),
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
		MaxConnections:    v.GetInt("max_connections"),
		FrameRate:         v.GetFloat64("frame_rate"),
		FrameBurst:        v.GetInt("frame_burst"),
	}

	if terms := v.GetString("filter_terms"); terms != "" {
		for _, t := range strings.Split(terms, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.FilterTerms = append(cfg.FilterTerms, t)
			}
		}
	}

	esc, err := ParseEscalation(v.GetString("escalation"))
	if err != nil {
		return Config{}, err
	}
	cfg.Escalation = esc

	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("config: session secret must be provided")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 300
	}
	return cfg, nil
}

// ParseEscalation parses a "strikes:duration" comma list, e.g.
// "1:0s,2:10m,3:24h,4:permanent". Steps must be sorted by strike count and
// ban durations must be non-decreasing.
func ParseEscalation(spec string) ([]EscalationStep, error) {
	if spec == "" {
		return DefaultEscalation(), nil
	}
	var steps []EscalationStep
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("config: bad escalation step %q", part)
		}
		var strikes int
		if _, err := fmt.Sscanf(kv[0], "%d", &strikes); err != nil || strikes <= 0 {
			return nil, fmt.Errorf("config: bad strike count in %q", part)
		}
		step := EscalationStep{Strikes: strikes}
		if kv[1] == "permanent" {
			step.Permanent = true
		} else {
			d, err := time.ParseDuration(kv[1])
			if err != nil {
				return nil, fmt.Errorf("config: bad ban duration in %q: %w", part, err)
			}
			step.Ban = d
		}
		steps = append(steps, step)
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Strikes <= steps[i-1].Strikes {
			return nil, fmt.Errorf("config: escalation strikes must increase")
		}
		if !steps[i].Permanent && !steps[i-1].Permanent && steps[i].Ban < steps[i-1].Ban {
			return nil, fmt.Errorf("config: escalation bans must be non-decreasing")
		}
	}
	if len(steps) == 0 {
		return DefaultEscalation(), nil
	}
	return steps, nil
}
