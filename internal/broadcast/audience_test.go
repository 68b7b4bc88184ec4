package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"shopbot/internal/store"
)

type stubRecipients struct {
	all    []store.Recipient
	err    error
	cutoff time.Time
}

func (s *stubRecipients) Touch(context.Context, int64, string, time.Time) error { return nil }

func (s *stubRecipients) All(context.Context) ([]store.Recipient, error) {
	return s.all, s.err
}

func (s *stubRecipients) ActiveSince(_ context.Context, cutoff time.Time) ([]store.Recipient, error) {
	s.cutoff = cutoff
	var out []store.Recipient
	for _, r := range s.all {
		if !r.LastInteractionAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, s.err
}

func TestResolveAllDeduplicates(t *testing.T) {
	t.Parallel()

	stub := &stubRecipients{all: []store.Recipient{{ID: 1}, {ID: 2}, {ID: 1}, {ID: 3}}}
	res, err := NewResolver(stub).Resolve(context.Background(), All())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := len(res.Recipients); got != 3 {
		t.Fatalf("recipients = %d, want 3", got)
	}
}

func TestResolveRecentUsesWindowCutoff(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	stub := &stubRecipients{all: []store.Recipient{
		{ID: 1, LastInteractionAt: now.AddDate(0, 0, -3)},
		{ID: 2, LastInteractionAt: now.AddDate(0, 0, -40)},
	}}
	r := NewResolver(stub)
	r.now = func() time.Time { return now }

	res, err := r.Resolve(context.Background(), Recent(7))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Recipients) != 1 || res.Recipients[0].ID != 1 {
		t.Fatalf("recipients = %+v, want only id 1", res.Recipients)
	}
	if want := now.AddDate(0, 0, -7); !stub.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", stub.cutoff, want)
	}
}

func TestResolveCustom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		wantIDs      []int64
		wantWarnings int
		wantErr      error
	}{
		{
			name:    "comma separated",
			raw:     "123,456,789",
			wantIDs: []int64{123, 456, 789},
		},
		{
			name:    "newlines and stray whitespace",
			raw:     " 123 \n456\r\n 789 ",
			wantIDs: []int64{123, 456, 789},
		},
		{
			name:    "duplicates collapse keeping first order",
			raw:     "5,3,5,3,7",
			wantIDs: []int64{5, 3, 7},
		},
		{
			name:         "non-numeric tokens become warnings",
			raw:          "123,abc,456",
			wantIDs:      []int64{123, 456},
			wantWarnings: 1,
		},
		{
			name:    "empty input",
			raw:     " , \n ",
			wantErr: ErrEmptyAudience,
		},
		{
			name:         "all tokens invalid",
			raw:          "abc,def",
			wantWarnings: 2,
			wantErr:      ErrEmptyAudience,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res, err := NewResolver(&stubRecipients{}).Resolve(context.Background(), Custom(tc.raw))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if len(res.Recipients) != len(tc.wantIDs) {
				t.Fatalf("recipients = %+v, want ids %v", res.Recipients, tc.wantIDs)
			}
			for i, id := range tc.wantIDs {
				if res.Recipients[i].ID != id {
					t.Errorf("recipients[%d].ID = %d, want %d", i, res.Recipients[i].ID, id)
				}
			}
			if len(res.Warnings) != tc.wantWarnings {
				t.Errorf("warnings = %v, want %d entries", res.Warnings, tc.wantWarnings)
			}
		})
	}
}

func TestResolveEmptyStoreFailsEarly(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(&stubRecipients{}).Resolve(context.Background(), All())
	if !errors.Is(err, ErrEmptyAudience) {
		t.Fatalf("err = %v, want ErrEmptyAudience", err)
	}
}

func TestParseAudience(t *testing.T) {
	t.Parallel()

	if spec, err := ParseAudience("ALL", ""); err != nil || spec.Kind() != AudienceAll {
		t.Errorf("ParseAudience(ALL) = %+v, %v", spec, err)
	}
	if spec, err := ParseAudience("recent", ""); err != nil || spec.Kind() != AudienceRecent {
		t.Errorf("ParseAudience(recent) = %+v, %v", spec, err)
	}
	if spec, err := ParseAudience("custom", "1,2"); err != nil || spec.Kind() != AudienceCustom {
		t.Errorf("ParseAudience(custom) = %+v, %v", spec, err)
	}

	_, err := ParseAudience("everyone", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}
