package broadcast

import (
	"sync"
	"testing"
)

func TestAggregatorTalliesConcurrently(t *testing.T) {
	t.Parallel()

	const perStatus = 100
	agg := NewAggregator(3 * perStatus)

	var wg sync.WaitGroup
	for _, status := range []OutcomeStatus{OutcomeSent, OutcomeBlocked, OutcomeFailed} {
		for i := 0; i < perStatus; i++ {
			wg.Add(1)
			go func(s OutcomeStatus, id int64) {
				defer wg.Done()
				agg.Observe(Outcome{RecipientID: id, Status: s})
			}(status, int64(i))
		}
	}
	wg.Wait()

	got := agg.Final()
	want := Tally{Sent: perStatus, Blocked: perStatus, Failed: perStatus, Total: 3 * perStatus}
	if got != want {
		t.Fatalf("tally = %+v, want %+v", got, want)
	}
}

func TestAggregatorFailedSampleIsBounded(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(2 * failedSampleCap)
	for i := 0; i < 2*failedSampleCap; i++ {
		agg.Observe(Outcome{RecipientID: int64(i), Status: OutcomeFailed})
	}
	if got := len(agg.FailedSample()); got != failedSampleCap {
		t.Fatalf("sample = %d ids, want %d", got, failedSampleCap)
	}
}
