package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"
)

// Progress tracks throughput of one scheduler run. The rate only counts
// bytes sent during this run, not chunks the server already had.
type Progress struct {
	mu         sync.Mutex
	now        func() time.Time
	start      time.Time
	totalBytes int64
	doneBytes  int64
	sentBytes  int64
}

// Snapshot is a point-in-time view of Progress
type Snapshot struct {
	DoneBytes  int64
	TotalBytes int64
	SentBytes  int64
	Elapsed    time.Duration
	// Rate is in bytes per second
	Rate float64
	// ETA is only meaningful when ETAKnown is set
	ETA      time.Duration
	ETAKnown bool
}

func newProgress(totalBytes, alreadyStored int64, now func() time.Time) *Progress {
	return &Progress{
		now:        now,
		start:      now(),
		totalBytes: totalBytes,
		doneBytes:  alreadyStored,
	}
}

func (p *Progress) add(n int64) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doneBytes += n
	p.sentBytes += n
	return p.snapshotLocked()
}

// Snapshot returns the current state
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Progress) snapshotLocked() Snapshot {
	s := Snapshot{
		DoneBytes:  p.doneBytes,
		TotalBytes: p.totalBytes,
		SentBytes:  p.sentBytes,
		Elapsed:    p.now().Sub(p.start),
	}

	if s.Elapsed > 0 {
		s.Rate = float64(p.sentBytes) / s.Elapsed.Seconds()
	}

	remaining := p.totalBytes - p.doneBytes
	switch {
	case remaining <= 0:
		s.ETAKnown = true
	case s.Rate > 0:
		s.ETA = time.Duration(float64(remaining) / s.Rate * float64(time.Second))
		s.ETAKnown = true
	}
	return s
}

// Percent returns the completed share in [0, 100]
func (s Snapshot) Percent() float64 {
	if s.TotalBytes <= 0 {
		return 100
	}
	return float64(s.DoneBytes) * 100 / float64(s.TotalBytes)
}

func (s Snapshot) String() string {
	eta := "unknown"
	if s.ETAKnown {
		eta = units.HumanDuration(s.ETA)
	}
	return fmt.Sprintf("%s / %s (%.1f%%) at %s/s, ETA %s",
		units.BytesSize(float64(s.DoneBytes)),
		units.BytesSize(float64(s.TotalBytes)),
		s.Percent(),
		units.BytesSize(s.Rate),
		eta)
}
