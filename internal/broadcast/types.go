package broadcast

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shopbot/internal/transport"
)

// MaxMessageLen is the Telegram text message cap, in characters.
const MaxMessageLen = 4096

var ErrEmptyAudience = errors.New("broadcast: audience resolved to zero recipients")

// ValidationError rejects a request before any job state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type AudienceKind int

const (
	AudienceAll AudienceKind = iota
	AudienceRecent
	AudienceCustom
)

// AudienceSpec is a closed descriptor of who a broadcast targets. Values
// are built only through the constructors or ParseAudience, so an invalid
// target type fails at construction instead of falling through silently.
type AudienceSpec struct {
	kind       AudienceKind
	windowDays int
	rawIDs     string
}

// All targets every known recipient.
func All() AudienceSpec { return AudienceSpec{kind: AudienceAll} }

// Recent targets recipients active within the given window. A
// non-positive window is filled in from configuration at send time.
func Recent(windowDays int) AudienceSpec {
	return AudienceSpec{kind: AudienceRecent, windowDays: windowDays}
}

// Custom targets an operator-supplied id list, separated by comma and/or
// newline.
func Custom(rawIDs string) AudienceSpec {
	return AudienceSpec{kind: AudienceCustom, rawIDs: rawIDs}
}

// ParseAudience maps the wire-level target type onto an AudienceSpec.
func ParseAudience(targetType, customUsers string) (AudienceSpec, error) {
	switch strings.ToLower(strings.TrimSpace(targetType)) {
	case "all":
		return All(), nil
	case "recent":
		return Recent(0), nil
	case "custom":
		return Custom(customUsers), nil
	default:
		return AudienceSpec{}, &ValidationError{Field: "targetType", Reason: fmt.Sprintf("unknown value %q", targetType)}
	}
}

func (s AudienceSpec) Kind() AudienceKind { return s.kind }

// withWindow fills in the recency window when the spec did not carry one.
func (s AudienceSpec) withWindow(days int) AudienceSpec {
	if s.kind == AudienceRecent && s.windowDays <= 0 {
		if days <= 0 {
			days = 30
		}
		s.windowDays = days
	}
	return s
}

// Description is the human-readable audience label stored on the record.
func (s AudienceSpec) Description() string {
	switch s.kind {
	case AudienceRecent:
		return "recent:" + strconv.Itoa(s.windowDays) + "d"
	case AudienceCustom:
		return "custom"
	default:
		return "all"
	}
}

// Request is one broadcast invocation. It is validated, never persisted
// as-is.
type Request struct {
	Title    string
	Message  string
	ImageURL string
	Audience AudienceSpec
	IsTest   bool
}

// Message is the per-recipient send payload after validation.
type Message struct {
	Text     string
	ImageURL string
	Options  *transport.SendOptions
}

type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeBlocked OutcomeStatus = "blocked"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the terminal delivery result for one recipient in one job.
// Exactly one is produced per recipient.
type Outcome struct {
	RecipientID int64
	Status      OutcomeStatus
	Attempts    int
	// Note annotates degraded-but-delivered outcomes, e.g. an image that
	// was dropped in favor of text-only delivery.
	Note string
	Err  string
}

// Tally is the aggregate result of one job.
type Tally struct {
	Sent    int `json:"sent"`
	Blocked int `json:"blocked"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Result is what the caller gets back once the whole fan-out completes.
// ID is empty for test sends, which are never persisted.
type Result struct {
	ID            string   `json:"id,omitempty"`
	SentCount     int      `json:"sentCount"`
	TotalTargeted int      `json:"totalTargeted"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Config controls the engine. Zero fields take the documented defaults.
type Config struct {
	Workers          int
	Retry            RetryPolicy
	RecentWindowDays int

	// TestRecipients is the fixed audience used for test sends.
	TestRecipients []int64

	// HistoryRetention bounds how long finished records are kept.
	HistoryRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Workers > 32 {
		c.Workers = 32
	}
	if c.RecentWindowDays <= 0 {
		c.RecentWindowDays = 30
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 90 * 24 * time.Hour
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Event is the lifecycle signal carried on the bus. Data is a
// StartedEvent or FinishedEvent depending on Type.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// StartedEvent and FinishedEvent are published on the event bus.
type StartedEvent struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Audience string `json:"audience"`
	Total    int    `json:"total"`
	IsTest   bool   `json:"isTest"`
}

type FinishedEvent struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Audience string        `json:"audience"`
	Status   string        `json:"status"`
	Tally    Tally         `json:"tally"`
	Took     time.Duration `json:"took"`
	IsTest   bool          `json:"isTest"`
}

const (
	EventStarted  = "broadcast.started"
	EventFinished = "broadcast.finished"
)
