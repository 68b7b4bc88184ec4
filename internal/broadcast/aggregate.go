package broadcast

import "sync"

// failedSampleCap bounds how many failed recipient ids are kept for the
// job-completion log line.
const failedSampleCap = 50

// Aggregator folds per-recipient outcomes into a running tally. Counters
// only ever grow; the worker pool's exactly-once guarantee keeps them from
// double-counting.
type Aggregator struct {
	mu           sync.Mutex
	total        int
	sent         int
	blocked      int
	failed       int
	failedSample []int64
}

func NewAggregator(total int) *Aggregator {
	return &Aggregator{total: total}
}

func (a *Aggregator) Observe(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch o.Status {
	case OutcomeSent:
		a.sent++
	case OutcomeBlocked:
		a.blocked++
	default:
		a.failed++
		if len(a.failedSample) < failedSampleCap {
			a.failedSample = append(a.failedSample, o.RecipientID)
		}
	}
}

func (a *Aggregator) Final() Tally {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Tally{Sent: a.sent, Blocked: a.blocked, Failed: a.failed, Total: a.total}
}

// FailedSample returns up to failedSampleCap recipient ids that failed.
func (a *Aggregator) FailedSample() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.failedSample...)
}
