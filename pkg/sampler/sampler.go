package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
)

var ErrExhausted = errors.New("no more location samples")

// Fixed always reports the same position with the current time
type Fixed struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64

	Now func() time.Time
}

func (f *Fixed) Sample(ctx context.Context) (ctdf.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return ctdf.LocationSample{}, err
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	sample := ctdf.NewLocationSample(f.Latitude, f.Longitude, now())
	if f.Accuracy > 0 {
		accuracy := f.Accuracy
		sample.Accuracy = &accuracy
	}

	return sample, nil
}

type csvRecord struct {
	Latitude  float64 `csv:"latitude"`
	Longitude float64 `csv:"longitude"`
	Timestamp float64 `csv:"timestamp"`
	Accuracy  float64 `csv:"accuracy"`
	Speed     float64 `csv:"speed"`
	Heading   float64 `csv:"heading"`
}

// CSVReplay plays back a recorded trip one row per Sample call.
// Restamp replaces the recorded timestamps with the current time, Loop starts over at the end.
type CSVReplay struct {
	Loop    bool
	Restamp bool

	mu      sync.Mutex
	samples []ctdf.LocationSample
	next    int
}

func NewCSVReplay(reader io.Reader) (*CSVReplay, error) {
	var records []*csvRecord
	if err := gocsv.Unmarshal(reader, &records); err != nil {
		return nil, fmt.Errorf("parsing location csv: %w", err)
	}

	replay := &CSVReplay{}
	for _, record := range records {
		sample := ctdf.LocationSample{
			Latitude:  record.Latitude,
			Longitude: record.Longitude,
			Timestamp: record.Timestamp,
		}

		// zero means the column was empty
		if record.Accuracy > 0 {
			accuracy := record.Accuracy
			sample.Accuracy = &accuracy
		}
		if record.Speed > 0 {
			speed := record.Speed
			sample.Speed = &speed
		}
		if record.Heading > 0 {
			heading := record.Heading
			sample.Heading = &heading
		}

		replay.samples = append(replay.samples, sample)
	}

	return replay, nil
}

func (r *CSVReplay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.samples)
}

func (r *CSVReplay) Sample(ctx context.Context) (ctdf.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return ctdf.LocationSample{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.samples) {
		if !r.Loop || len(r.samples) == 0 {
			return ctdf.LocationSample{}, ErrExhausted
		}
		r.next = 0
	}

	sample := r.samples[r.next]
	r.next++

	if r.Restamp {
		sample.Timestamp = float64(time.Now().UnixMilli()) / 1000
	}

	return sample, nil
}
