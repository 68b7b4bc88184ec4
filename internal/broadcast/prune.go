package broadcast

import (
	"context"

	"shopbot/pkg/logx"
)

// PruneHistory deletes finished records older than the configured
// retention. Draft and sending records are never touched. Wired to the
// cron scheduler by the app.
func (s *Service) PruneHistory(ctx context.Context) error {
	cfg := s.config()
	cutoff := s.now().UTC().Add(-cfg.HistoryRetention)

	n, err := s.deps.Jobs.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.deps.Log.Info("broadcast history pruned",
			logx.Int64("deleted", n),
			logx.Time("cutoff", cutoff),
		)
	}
	return nil
}
