package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lgulliver/stowaway/pkg/config"
	"github.com/lgulliver/stowaway/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ChunkState is the client-side lifecycle of a chunk
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkInFlight
	ChunkDone
	ChunkFailed
)

func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkInFlight:
		return "in-flight"
	case ChunkDone:
		return "done"
	case ChunkFailed:
		return "failed"
	default:
		return fmt.Sprintf("ChunkState(%d)", int(s))
	}
}

// ChunkSender transfers one chunk in a single attempt
type ChunkSender interface {
	SendChunk(ctx context.Context, uploadID string, index int, data []byte) error
}

// Config holds configuration for the transfer scheduler.
type Config struct {
	// Concurrency is the maximum number of chunks in flight.
	// Default: 3
	Concurrency int

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// BaseDelay is the backoff before the first retry; it doubles on
	// every further retry.
	// Default: 1 second
	BaseDelay time.Duration

	// AttemptTimeout bounds a single transfer attempt.
	// Default: 2 minutes
	AttemptTimeout time.Duration

	// ChunkSize must match the server chunk size.
	// Default: 5 MiB
	ChunkSize int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    3,
		MaxRetries:     3,
		BaseDelay:      time.Second,
		AttemptTimeout: 2 * time.Minute,
		ChunkSize:      config.DefaultChunkSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	return c
}

// MaxBackoff caps the delay between two attempts of the same chunk
const MaxBackoff = 10 * time.Minute

// Backoff returns the delay before retry number attempt (1-based):
// base * 2^(attempt-1), capped at MaxBackoff. A base above the cap is
// returned unchanged.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || base >= MaxBackoff {
		return base
	}
	delay := base
	for i := 1; i < attempt && delay < MaxBackoff; i++ {
		delay *= 2
	}
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}

// Report is the outcome of a scheduler run
type Report struct {
	States      []ChunkState
	Attempts    []int
	Errors      map[int]error
	MaxInFlight int
	Progress    Snapshot
}

// AllDone reports whether every chunk reached done
func (r *Report) AllDone() bool {
	for _, s := range r.States {
		if s != ChunkDone {
			return false
		}
	}
	return true
}

// Count returns how many chunks are in state
func (r *Report) Count(state ChunkState) int {
	n := 0
	for _, s := range r.States {
		if s == state {
			n++
		}
	}
	return n
}

// Scheduler uploads the chunks of one session through a fixed pool of
// workers. Each Scheduler owns its concurrency bound, so independent
// instances never interfere.
type Scheduler struct {
	cfg        Config
	uploadID   string
	source     ChunkSource
	sender     ChunkSender
	logger     zerolog.Logger
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
	onProgress func(Snapshot)

	mu       sync.Mutex
	states   []ChunkState
	attempts []int
	errs     map[int]error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	progress    *Progress
}

// SchedulerOption customizes a Scheduler
type SchedulerOption func(*Scheduler)

// WithSleep replaces the backoff sleep; it must return early with the
// context error when ctx is done
func WithSleep(sleep func(context.Context, time.Duration) error) SchedulerOption {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithProgress registers a callback invoked after every finished chunk
func WithProgress(fn func(Snapshot)) SchedulerOption {
	return func(s *Scheduler) { s.onProgress = fn }
}

// WithSchedulerLogger sets the scheduler logger
func WithSchedulerLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a scheduler for uploadID reading from source
func NewScheduler(uploadID string, source ChunkSource, sender ChunkSender, cfg Config, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		uploadID: uploadID,
		source:   source,
		sender:   sender,
		logger:   log.Logger,
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run transfers every chunk not listed in stored and blocks until each is
// done or failed. Cancelling ctx stops dispatch of new chunks; transfers
// already in flight finish their current attempt, and chunks never
// dispatched stay pending. Run returns ctx.Err() in that case.
func (s *Scheduler) Run(ctx context.Context, stored []int) (*Report, error) {
	size := s.source.Size()
	total := utils.TotalChunks(size, s.cfg.ChunkSize)

	s.states = make([]ChunkState, total)
	s.attempts = make([]int, total)
	s.errs = make(map[int]error)

	var storedBytes int64
	for _, index := range stored {
		if index < 0 || index >= total || s.states[index] == ChunkDone {
			continue
		}
		s.states[index] = ChunkDone
		storedBytes += utils.ExpectedChunkLength(index, s.cfg.ChunkSize, size)
	}
	s.progress = newProgress(size, storedBytes, s.now)

	tasks := make(chan int, total)
	for index, state := range s.states {
		if state == ChunkPending {
			tasks <- index
		}
	}
	close(tasks)

	workers := s.cfg.Concurrency
	if len(tasks) < workers {
		workers = len(tasks)
	}

	s.logger.Info().
		Str("session_id", s.uploadID).
		Int("total_chunks", total).
		Int("already_stored", total-len(tasks)).
		Int("workers", workers).
		Msg("starting chunk transfers")

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for index := range tasks {
				if ctx.Err() != nil {
					continue
				}
				s.transfer(ctx, index)
			}
		}()
	}
	wg.Wait()

	report := s.report()
	s.logger.Info().
		Str("session_id", s.uploadID).
		Int("done", report.Count(ChunkDone)).
		Int("failed", report.Count(ChunkFailed)).
		Int("pending", report.Count(ChunkPending)).
		Str("progress", report.Progress.String()).
		Msg("chunk transfers finished")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Scheduler) transfer(ctx context.Context, index int) {
	data, err := s.source.ReadChunk(index)
	if err != nil {
		s.finish(index, ChunkFailed, err)
		return
	}

	s.setState(index, ChunkInFlight)
	s.enter()
	defer s.inFlight.Add(-1)

	maxAttempts := s.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.mu.Lock()
		s.attempts[index] = attempt
		s.mu.Unlock()

		err = s.attempt(ctx, index, data)
		if err == nil {
			s.finish(index, ChunkDone, nil)
			snapshot := s.progress.add(int64(len(data)))
			s.logger.Debug().
				Str("session_id", s.uploadID).
				Int("index", index).
				Int("attempt", attempt).
				Str("progress", snapshot.String()).
				Msg("chunk uploaded")
			if s.onProgress != nil {
				s.onProgress(snapshot)
			}
			return
		}

		if attempt == maxAttempts {
			break
		}

		delay := Backoff(s.cfg.BaseDelay, attempt)
		s.logger.Warn().
			Err(err).
			Str("session_id", s.uploadID).
			Int("index", index).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("chunk attempt failed")

		if ctx.Err() != nil || s.sleep(ctx, delay) != nil {
			// cancelled: no further attempts, the chunk can be resumed later
			s.finish(index, ChunkPending, err)
			return
		}
	}

	s.logger.Error().
		Err(err).
		Str("session_id", s.uploadID).
		Int("index", index).
		Int("attempts", maxAttempts).
		Msg("chunk failed, giving up")
	s.finish(index, ChunkFailed, err)
}

// attempt runs one bounded transfer. It is detached from ctx cancellation
// so an in-flight send completes or fails on its own.
func (s *Scheduler) attempt(ctx context.Context, index int, data []byte) error {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AttemptTimeout)
	defer cancel()

	if err := s.sender.SendChunk(attemptCtx, s.uploadID, index, data); err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("chunk %d timed out after %s: %w", index, s.cfg.AttemptTimeout, err)
		}
		return err
	}
	return nil
}

func (s *Scheduler) enter() {
	n := s.inFlight.Add(1)
	for {
		seen := s.maxInFlight.Load()
		if n <= seen || s.maxInFlight.CompareAndSwap(seen, n) {
			return
		}
	}
}

func (s *Scheduler) setState(index int, state ChunkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[index] = state
}

func (s *Scheduler) finish(index int, state ChunkState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[index] = state
	if err != nil {
		s.errs[index] = err
	} else {
		delete(s.errs, index)
	}
}

// States returns a copy of the current chunk states
func (s *Scheduler) States() []ChunkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChunkState(nil), s.states...)
}

// InFlight returns the number of transfers currently running
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

func (s *Scheduler) report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make(map[int]error, len(s.errs))
	for k, v := range s.errs {
		errs[k] = v
	}

	return &Report{
		States:      append([]ChunkState(nil), s.states...),
		Attempts:    append([]int(nil), s.attempts...),
		Errors:      errs,
		MaxInFlight: int(s.maxInFlight.Load()),
		Progress:    s.progress.Snapshot(),
	}
}
