package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"shopbot/internal/eventbus"
	"shopbot/internal/store"
	"shopbot/internal/transport"
	"shopbot/pkg/logx"
)

// Deps are the collaborators a Service needs. All of them are required
// except Bus, which may be nil when nobody listens for job events.
type Deps struct {
	Recipients store.RecipientStore
	Jobs       store.BroadcastStore
	Sender     transport.Sender
	Limiter    *rate.Limiter
	Bus        eventbus.Bus[Event]
	Log        logx.Logger
}

// Service runs broadcast jobs end to end: audience resolution, record
// lifecycle, fan-out and outcome aggregation. One Send call is one job;
// calls are independent and may overlap, sharing the rate limiter.
type Service struct {
	deps Deps

	mu  sync.RWMutex
	cfg Config

	now func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	return &Service{
		deps: deps,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
}

// Apply installs a new runtime configuration. In-flight jobs keep the
// settings they started with; the next job picks up the new ones.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Send validates the request, persists a job record and delivers the
// message to every resolved recipient. It returns once the job reached a
// terminal state; the record then carries the final tally.
func (s *Service) Send(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	cfg := s.config()
	audience := req.Audience.withWindow(cfg.RecentWindowDays)

	res, err := s.resolve(ctx, audience)
	if err != nil {
		return Result{}, err
	}

	rec := store.BroadcastRecord{
		ID:       uuid.NewString(),
		Title:    strings.TrimSpace(req.Title),
		Message:  req.Message,
		ImageURL: req.ImageURL,
		Audience: audience.Description(),
	}
	if err := s.deps.Jobs.Create(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("create broadcast record: %w", err)
	}
	if err := s.deps.Jobs.MarkSending(ctx, rec.ID, len(res.Recipients)); err != nil {
		return Result{}, fmt.Errorf("mark broadcast sending: %w", err)
	}

	started := s.now()
	s.publish(EventStarted, StartedEvent{
		ID:       rec.ID,
		Title:    rec.Title,
		Audience: rec.Audience,
		Total:    len(res.Recipients),
	})
	s.deps.Log.Info("broadcast started",
		logx.String("id", rec.ID),
		logx.String("audience", rec.Audience),
		logx.Int("total", len(res.Recipients)),
	)

	tally, failedSample := s.run(ctx, cfg, res.Recipients, messageOf(req))

	status := store.StatusSent
	if tally.Sent == 0 && tally.Total > 0 {
		status = store.StatusFailed
	}
	completed := s.now().UTC()
	if err := s.deps.Jobs.Finalize(ctx, rec.ID, status, tally.Sent, tally.Blocked, tally.Failed, completed); err != nil {
		s.deps.Log.Error("finalize broadcast record", logx.String("id", rec.ID), logx.Err(err))
		return Result{}, fmt.Errorf("finalize broadcast record: %w", err)
	}

	s.publish(EventFinished, FinishedEvent{
		ID:       rec.ID,
		Title:    rec.Title,
		Audience: rec.Audience,
		Status:   string(status),
		Tally:    tally,
		Took:     s.now().Sub(started),
	})
	s.deps.Log.Info("broadcast finished",
		logx.String("id", rec.ID),
		logx.String("status", string(status)),
		logx.Int("sent", tally.Sent),
		logx.Int("blocked", tally.Blocked),
		logx.Int("failed", tally.Failed),
		logx.Any("failedSample", failedSample),
		logx.Duration("took", s.now().Sub(started)),
	)

	return Result{
		ID:            rec.ID,
		SentCount:     tally.Sent,
		TotalTargeted: tally.Total,
		ImageURL:      req.ImageURL,
		Warnings:      res.Warnings,
	}, nil
}

// Test delivers the message to the configured test recipients only.
// Nothing is persisted and no history events fire: a test send must leave
// no trace.
func (s *Service) Test(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	cfg := s.config()
	if len(cfg.TestRecipients) == 0 {
		return Result{}, ErrEmptyAudience
	}

	recipients := make([]store.Recipient, 0, len(cfg.TestRecipients))
	for _, id := range cfg.TestRecipients {
		recipients = append(recipients, store.Recipient{ID: id})
	}

	tally, _ := s.run(ctx, cfg, recipients, messageOf(req))
	return Result{
		SentCount:     tally.Sent,
		TotalTargeted: tally.Total,
		ImageURL:      req.ImageURL,
	}, nil
}

// History returns persisted jobs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]store.BroadcastRecord, error) {
	return s.deps.Jobs.List(ctx, limit)
}

func (s *Service) resolve(ctx context.Context, spec AudienceSpec) (Resolution, error) {
	r := NewResolver(s.deps.Recipients)
	r.now = s.now
	return r.Resolve(ctx, spec)
}

func (s *Service) run(ctx context.Context, cfg Config, recipients []store.Recipient, msg Message) (Tally, []int64) {
	agg := NewAggregator(len(recipients))
	pool := NewPool(cfg.Workers, s.deps.Sender, s.deps.Limiter, cfg.Retry, s.deps.Log)
	for o := range pool.Dispatch(ctx, recipients, msg) {
		agg.Observe(o)
	}
	return agg.Final(), agg.FailedSample()
}

func (s *Service) publish(typ string, data any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(Event{Type: typ, Time: s.now(), Data: data})
}

func messageOf(req Request) Message {
	return Message{
		Text:     req.Message,
		ImageURL: req.ImageURL,
		Options: &transport.SendOptions{
			ParseMode:      "HTML",
			DisablePreview: true,
		},
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.Message) == "" {
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(req.Message); n > MaxMessageLen {
		return &ValidationError{Field: "message", Reason: fmt.Sprintf("%d characters exceeds the %d limit", n, MaxMessageLen)}
	}
	return nil
}
