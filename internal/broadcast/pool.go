package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shopbot/internal/store"
	"shopbot/internal/transport"
	"shopbot/pkg/logx"
)

// Pool fans one message out to a recipient list with bounded concurrency.
// The limiter is shared process-wide so concurrent jobs cannot jointly
// exceed the platform rate.
type Pool struct {
	workers int
	sender  transport.Sender
	limiter *rate.Limiter
	retry   RetryPolicy
	log     logx.Logger

	// sleep is the backoff wait; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPool(workers int, sender transport.Sender, limiter *rate.Limiter, retry RetryPolicy, log logx.Logger) *Pool {
	if workers <= 0 {
		workers = 8
	}
	return &Pool{
		workers: workers,
		sender:  sender,
		limiter: limiter,
		retry:   retry.withDefaults(),
		log:     log,
		sleep:   sleepCtx,
	}
}

// Dispatch drains recipients through the worker pool and streams exactly
// one Outcome per recipient on the returned channel, in completion order.
// The channel closes once every recipient is resolved. A cancelled context
// resolves remaining recipients as failed rather than leaving them
// unresolved.
func (p *Pool) Dispatch(ctx context.Context, recipients []store.Recipient, msg Message) <-chan Outcome {
	out := make(chan Outcome, len(recipients))
	queue := make(chan store.Recipient)

	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			for rcpt := range queue {
				out <- p.deliver(ctx, rcpt, msg)
			}
		}()
	}

	go func() {
		for _, r := range recipients {
			queue <- r
		}
		close(queue)
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// deliver resolves one recipient to a terminal outcome. Attempts are
// strictly sequential; each one passes the shared rate gate first.
func (p *Pool) deliver(ctx context.Context, rcpt store.Recipient, msg Message) Outcome {
	maxAttempts := p.retry.MaxAttempts
	imageURL := msg.ImageURL

	var (
		attempts int
		note     string
		lastErr  error
	)
	for attempts < maxAttempts {
		attempts++

		if err := p.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		err := p.sendOnce(ctx, rcpt.ID, imageURL, msg)
		if err == nil {
			return Outcome{RecipientID: rcpt.ID, Status: OutcomeSent, Attempts: attempts, Note: note}
		}
		lastErr = err

		class := transport.ClassOf(err)
		if class == transport.ClassBlocked {
			return Outcome{RecipientID: rcpt.ID, Status: OutcomeBlocked, Attempts: attempts, Err: err.Error()}
		}
		if class == transport.ClassPermanent && imageURL != "" {
			// Image delivery is best-effort: drop the image and resend
			// as plain text within the same attempt. Text delivery is
			// not best-effort.
			note = "image dropped: " + err.Error()
			imageURL = ""
			attempts--
			continue
		}
		if !p.retry.Retryable(class) {
			return Outcome{RecipientID: rcpt.ID, Status: OutcomeFailed, Attempts: attempts, Err: err.Error()}
		}

		if attempts >= maxAttempts {
			break
		}

		delay := transport.RetryAfterOf(err)
		if delay <= 0 {
			delay = p.retry.Delay(attempts)
		}
		p.log.Debug("send retry scheduled",
			logx.Int64("recipient", rcpt.ID),
			logx.Int("attempt", attempts+1),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	p.log.Warn("send failed",
		logx.Int64("recipient", rcpt.ID),
		logx.Int("attempts", attempts),
		logx.Err(lastErr),
	)
	o := Outcome{RecipientID: rcpt.ID, Status: OutcomeFailed, Attempts: attempts, Note: note}
	if lastErr != nil {
		o.Err = lastErr.Error()
	}
	return o
}

func (p *Pool) sendOnce(ctx context.Context, chatID int64, imageURL string, msg Message) error {
	if imageURL != "" {
		return p.sender.SendPhoto(ctx, chatID, imageURL, msg.Text, msg.Options)
	}
	return p.sender.SendText(ctx, chatID, msg.Text, msg.Options)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
