package offlinequeue

import (
	"context"
	"sync"
	"time"

	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
	"golang.org/x/exp/slices"
)

// SendFunc reports whether the sample was accepted for delivery
type SendFunc func(ctx context.Context, sample ctdf.LocationSample) bool

// Queue holds samples that could not be delivered, oldest first.
// Nothing is ever dropped: a sample leaves the queue only when a send succeeds.
type Queue struct {
	pacing time.Duration

	mu       sync.Mutex
	items    []ctdf.LocationSample
	draining bool
}

func New(pacing time.Duration) *Queue {
	return &Queue{pacing: pacing}
}

func (q *Queue) Enqueue(sample ctdf.LocationSample) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, sample)
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *Queue) Snapshot() []ctdf.LocationSample {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.items)
}

func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.draining
}

// Drain sends every queued sample in order, pausing between sends.
// Failed samples go back on the tail. Samples enqueued while the drain runs are
// sent in the same drain unless a send has failed. Only one drain runs at a time;
// a call made while another drain is in progress returns the current size without sending.
// If ctx is cancelled the unattempted samples are restored to the head of the queue.
func (q *Queue) Drain(ctx context.Context, send SendFunc) int {
	q.mu.Lock()
	if q.draining || len(q.items) == 0 {
		size := len(q.items)
		q.mu.Unlock()
		return size
	}

	q.draining = true
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	attempted := 0
	for {
		failed := false

		for i, sample := range pending {
			if attempted > 0 && q.pacing > 0 {
				timer := time.NewTimer(q.pacing)
				select {
				case <-ctx.Done():
					timer.Stop()
					q.restore(pending[i:])
					return q.Size()
				case <-timer.C:
				}
			}

			if ctx.Err() != nil {
				q.restore(pending[i:])
				return q.Size()
			}

			attempted++
			if !send(ctx, sample) {
				q.Enqueue(sample)
				failed = true
			}
		}

		q.mu.Lock()
		if failed || len(q.items) == 0 {
			size := len(q.items)
			q.mu.Unlock()
			return size
		}
		pending = q.items
		q.items = nil
		q.mu.Unlock()
	}
}

func (q *Queue) restore(samples []ctdf.LocationSample) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(slices.Clone(samples), q.items...)
}
