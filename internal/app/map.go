package app

import (
	"time"

	"shopbot/internal/broadcast"
	"shopbot/internal/config"
	"shopbot/internal/objectstore"
	"shopbot/internal/store"
	"shopbot/pkg/logx"
)

// engineSettings is everything the delivery engine derives from one
// config snapshot.
type engineSettings struct {
	Broadcast     broadcast.Config
	RatePerSec    int
	Burst         int
	PruneSchedule string
}

func mapEngineSettings(cfg *config.Config) (engineSettings, error) {
	bc := cfg.Broadcast

	retryBase, err := config.ParseDurationOrDefault("broadcast.retry_base", bc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return engineSettings{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("broadcast.retry_max_delay", bc.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return engineSettings{}, err
	}

	attempts := 0
	if bc.RetryMax > 0 {
		attempts = bc.RetryMax + 1
	}

	retention := time.Duration(bc.HistoryRetentionDays) * 24 * time.Hour

	rps := bc.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	burst := bc.Burst
	if burst <= 0 {
		burst = 5
	}
	schedule := bc.PruneSchedule
	if schedule == "" {
		schedule = "@daily"
	}

	return engineSettings{
		Broadcast: broadcast.Config{
			Workers: bc.Workers,
			Retry: broadcast.RetryPolicy{
				MaxAttempts: attempts,
				Base:        retryBase,
				MaxDelay:    retryMaxDelay,
			},
			RecentWindowDays: bc.RecentWindowDays,
			TestRecipients:   bc.TestRecipients,
			HistoryRetention: retention,
		},
		RatePerSec:    rps,
		Burst:         burst,
		PruneSchedule: schedule,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, nil
}

// mapObjectStoreConfig returns ok=false when the section is absent, which
// disables image upload routes.
func mapObjectStoreConfig(cfg *config.Config) (objectstore.Config, bool, error) {
	oc := cfg.ObjectStore
	if oc == nil {
		return objectstore.Config{}, false, nil
	}
	ttl, err := config.ParseDurationOrDefault("object_store.presign_ttl", oc.PresignTTL, 15*time.Minute)
	if err != nil {
		return objectstore.Config{}, false, err
	}
	return objectstore.Config{
		Endpoint:      oc.Endpoint,
		Region:        oc.Region,
		Bucket:        oc.Bucket,
		AccessKey:     oc.AccessKey,
		SecretKey:     oc.SecretKey,
		PublicBaseURL: oc.PublicBaseURL,
		PresignTTL:    ttl,
	}, true, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
