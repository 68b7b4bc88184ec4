// Package telegram implements the transport.Sender primitive and the
// recipient-tracking ingest on top of the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"shopbot/internal/transport"
	"shopbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	// onInteraction is invoked for every inbound update so recipient
	// tracking stays current. Set before Start.
	onInteraction func(transport.Interaction)

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// OnInteraction registers the inbound-update hook. Must be called before
// Start.
func (a *Adapter) OnInteraction(fn func(transport.Interaction)) {
	a.onInteraction = fn
}

// Start begins long polling. It returns immediately; polling runs until
// Stop or ctx cancellation.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(1)
	a.runMu.Unlock()

	record := func(c tele.Context) {
		fn := a.onInteraction
		if fn == nil {
			return
		}
		sender := c.Sender()
		if sender == nil || sender.IsBot {
			return
		}
		fn(transport.Interaction{
			UserID:   sender.ID,
			Username: sender.Username,
			At:       time.Now(),
		})
	}

	a.bot.Handle("/start", func(c tele.Context) error {
		record(c)
		return nil
	})
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		record(c)
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		record(c)
		return nil
	})

	go func() {
		defer a.runWG.Done()
		// Ensure telebot stops when the context is cancelled.
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() is called
	}()

	return nil
}

// Stop halts long polling. Safe to call more than once.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return transport.Transient(err)
	}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, text, sendOpts(opt))
	return classify(err)
}

func (a *Adapter) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, opt *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return transport.Transient(err)
	}
	photo := &tele.Photo{File: tele.FromURL(photoURL), Caption: caption}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, photo, sendOpts(opt))
	return classify(err)
}

func sendOpts(opt *transport.SendOptions) *tele.SendOptions {
	out := &tele.SendOptions{}
	if opt == nil {
		return out
	}
	out.ParseMode = opt.ParseMode
	out.DisableWebPagePreview = opt.DisablePreview
	return out
}

// classify maps Telegram API errors onto the transport error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.Flood(err, time.Duration(flood.RetryAfter)*time.Second)
	}

	// Recipient-specific permanent conditions: the user is unreachable and
	// will stay unreachable.
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrUserIsDeactivated) {
		return transport.Blocked(err)
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 403:
			return transport.Blocked(err)
		case apiErr.Code >= 500:
			return transport.Transient(err)
		default:
			return transport.Permanent(err)
		}
	}

	// Anything else is network-level (timeout, reset): retryable.
	return transport.Transient(err)
}
