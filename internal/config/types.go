package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full service configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON and decoded strictly,
// so unknown keys are rejected in both formats. All durations are Go
// duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram    TelegramConfig     `json:"telegram"`
	Logging     LoggingConfig      `json:"logging"`
	HTTP        HTTPConfig         `json:"http"`
	Storage     StorageConfig      `json:"storage"`
	Broadcast   BroadcastConfig    `json:"broadcast"`
	ObjectStore *ObjectStoreConfig `json:"object_store,omitempty"`
	Pprof       *PprofConfig       `json:"pprof,omitempty"`
}

// PprofConfig enables the profiling listener. Omitting the section keeps
// it off.
type PprofConfig struct {
	Addr  string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token string `json:"token,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OwnerChatID receives operational notices (broadcast completion
	// summaries). 0 disables them.
	OwnerChatID int64 `json:"owner_chat_id,omitempty"`

	PollTimeout string `json:"poll_timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"` // debug|info|warn|error
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type HTTPConfig struct {
	Addr         string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"` // default "0s": broadcast requests block for the whole fan-out
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite busy_timeout
}

// BroadcastConfig controls the delivery engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 8
//   - rate_per_sec: 25, burst: 5
//   - retry_max: 2 (3 attempts total)
//   - retry_base: "500ms", retry_max_delay: "30s"
//   - recent_window_days: 30
//   - history_retention_days: 90
//   - prune_schedule: "@daily"
type BroadcastConfig struct {
	Workers       int    `json:"workers,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	Burst         int    `json:"burst,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	RecentWindowDays int `json:"recent_window_days,omitempty"`

	// TestRecipients is the fixed audience for test sends.
	TestRecipients []int64 `json:"test_recipients,omitempty"`

	HistoryRetentionDays int    `json:"history_retention_days,omitempty"`
	PruneSchedule        string `json:"prune_schedule,omitempty"`
}

// ObjectStoreConfig points at an S3-compatible bucket used for broadcast
// image uploads. When the section is omitted, image uploads are rejected.
type ObjectStoreConfig struct {
	Endpoint      string `json:"endpoint,omitempty"` // empty for AWS proper
	Region        string `json:"region"`
	Bucket        string `json:"bucket"`
	AccessKey     string `json:"access_key"`
	SecretKey     string `json:"secret_key"`
	PublicBaseURL string `json:"public_base_url"`
	PresignTTL    string `json:"presign_ttl,omitempty"` // default "15m"
}

// Validate checks fields that cannot be defaulted away.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if c.Broadcast.Workers < 0 || c.Broadcast.Workers > 32 {
		return fmt.Errorf("broadcast.workers out of range: %d", c.Broadcast.Workers)
	}
	if c.Broadcast.RatePerSec < 0 {
		return fmt.Errorf("broadcast.rate_per_sec must be >= 0")
	}
	for _, field := range []struct {
		path string
		raw  string
	}{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"broadcast.retry_base", c.Broadcast.RetryBase},
		{"broadcast.retry_max_delay", c.Broadcast.RetryMaxDelay},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	if os := c.ObjectStore; os != nil {
		if strings.TrimSpace(os.Bucket) == "" {
			return errors.New("object_store.bucket is required")
		}
		if _, err := ParseDurationField("object_store.presign_ttl", os.PresignTTL); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses a duration-valued config field such as
// "500ms" or "2h45m". An empty value parses to zero so the caller can
// apply its own default; negative durations are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// fields left empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
