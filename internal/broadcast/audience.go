package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shopbot/internal/store"
)

// Resolver turns an AudienceSpec into a concrete, deduplicated recipient
// list. It only reads the tracking store.
type Resolver struct {
	recipients store.RecipientStore
	now        func() time.Time
}

func NewResolver(recipients store.RecipientStore) *Resolver {
	return &Resolver{recipients: recipients, now: time.Now}
}

// Resolution is a resolved audience. Warnings carry dropped custom tokens;
// they never fail the job.
type Resolution struct {
	Recipients []store.Recipient
	Warnings   []string
}

// Resolve fails with ErrEmptyAudience whenever the resolved set has zero
// members, regardless of spec kind.
func (r *Resolver) Resolve(ctx context.Context, spec AudienceSpec) (Resolution, error) {
	var res Resolution
	switch spec.kind {
	case AudienceAll:
		all, err := r.recipients.All(ctx)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve all: %w", err)
		}
		res.Recipients = dedupe(all)

	case AudienceRecent:
		win := spec.windowDays
		if win <= 0 {
			win = 30
		}
		cutoff := r.now().AddDate(0, 0, -win)
		recent, err := r.recipients.ActiveSince(ctx, cutoff)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve recent: %w", err)
		}
		res.Recipients = dedupe(recent)

	case AudienceCustom:
		ids, warnings := parseCustomIDs(spec.rawIDs)
		res.Warnings = warnings
		res.Recipients = make([]store.Recipient, 0, len(ids))
		for _, id := range ids {
			res.Recipients = append(res.Recipients, store.Recipient{ID: id})
		}
	}

	if len(res.Recipients) == 0 {
		return Resolution{}, ErrEmptyAudience
	}
	return res, nil
}

// parseCustomIDs splits raw on commas and newlines, trims whitespace,
// drops empty tokens, and collects non-numeric tokens as warnings.
// Remaining ids are deduplicated preserving first occurrence order.
func parseCustomIDs(raw string) ([]int64, []string) {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	var (
		ids      []int64
		warnings []string
		seen     = make(map[int64]struct{}, len(tokens))
	)
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("dropped non-numeric id %q", tok))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, warnings
}

func dedupe(in []store.Recipient) []store.Recipient {
	if len(in) < 2 {
		return in
	}
	seen := make(map[int64]struct{}, len(in))
	out := in[:0]
	for _, r := range in {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
