// Package transport defines the platform-neutral contract between the
// broadcast engine and the messaging platform adapter.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type SendOptions struct {
	ParseMode      string // adapter-specific, e.g. "HTML"
	DisablePreview bool
}

// Sender is the low-level "send one message to one recipient" primitive.
// Implementations must be safe for concurrent use.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) error

	// SendPhoto sends an image by reference (URL) with an optional caption.
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, opt *SendOptions) error
}

// Interaction is one inbound contact from a platform user. The adapter
// reports these so the recipient tracking store stays current.
type Interaction struct {
	UserID   int64
	Username string
	At       time.Time
}

// Class partitions delivery errors by how the engine must react.
type Class int

const (
	// ClassTransient: timeouts, connection resets, platform 5xx. Retryable.
	ClassTransient Class = iota
	// ClassBlocked: the recipient blocked the bot, the chat does not exist,
	// or the account is deactivated. Permanent and recipient-specific.
	ClassBlocked
	// ClassFlood: platform rate limiting (429). Retryable after a delay.
	ClassFlood
	// ClassPermanent: any other API rejection (bad request, bad media).
	// Not retryable, not recipient-blocking.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassBlocked:
		return "blocked"
	case ClassFlood:
		return "flood"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// DeliveryError wraps a platform error with its classification.
type DeliveryError struct {
	Class Class
	// RetryAfter is the platform-requested wait for ClassFlood, 0 if the
	// platform gave none.
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("delivery failed (%s)", e.Class)
	}
	return fmt.Sprintf("delivery failed (%s): %v", e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func Blocked(err error) *DeliveryError { return &DeliveryError{Class: ClassBlocked, Err: err} }

func Flood(err error, retryAfter time.Duration) *DeliveryError {
	return &DeliveryError{Class: ClassFlood, RetryAfter: retryAfter, Err: err}
}

func Transient(err error) *DeliveryError { return &DeliveryError{Class: ClassTransient, Err: err} }

func Permanent(err error) *DeliveryError { return &DeliveryError{Class: ClassPermanent, Err: err} }

// ClassOf extracts the classification from err. Unclassified errors count
// as transient so the retry policy gets a chance at network-level failures.
func ClassOf(err error) Class {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Class
	}
	return ClassTransient
}

// RetryAfterOf returns the platform-requested delay, if err carries one.
func RetryAfterOf(err error) time.Duration {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}
