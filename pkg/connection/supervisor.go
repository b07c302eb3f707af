package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Supervisor errors.
var (
	ErrSupervisorClosed = errors.New("supervisor closed")
	ErrAlreadyStarted   = errors.New("supervisor already started")

	// ErrStreamEnded is reported when a stream function returns nil while
	// the supervisor is still running.
	ErrStreamEnded = errors.New("stream ended")
)

// State represents the supervisor state.
type State uint8

const (
	// StateIdle indicates the supervisor has not been started.
	StateIdle State = iota

	// StateListening indicates the stream function is running.
	StateListening

	// StateReconnecting indicates the supervisor is waiting to run the
	// stream function again.
	StateReconnecting

	// StateClosed indicates the supervisor has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StreamFunc runs one subscription to an inbound stream. It blocks until ctx
// is cancelled or the stream fails.
type StreamFunc func(ctx context.Context) error

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Name identifies the supervised stream in logs.
	Name string

	// Backoff yields the delay before each restart. Defaults to
	// NewFixedBackoff(ReconnectDelay).
	Backoff *Backoff

	// Logger receives reconnect warnings. Nil disables logging.
	Logger *slog.Logger
}

// Supervisor restarts a stream function whenever it returns.
type Supervisor struct {
	mu sync.RWMutex

	name    string
	state   State
	backoff *Backoff
	stream  StreamFunc
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	restarts int

	onStateChange  func(oldState, newState State)
	onReconnecting func(attempt int, delay time.Duration, err error)
}

// NewSupervisor creates a supervisor for stream.
func NewSupervisor(stream StreamFunc, cfg SupervisorConfig) *Supervisor {
	if cfg.Backoff == nil {
		cfg.Backoff = NewFixedBackoff(ReconnectDelay)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		name:    cfg.Name,
		state:   StateIdle,
		backoff: cfg.Backoff,
		stream:  stream,
		logger:  logger.With("component", "supervisor", "stream", cfg.Name),
	}
}

// Name returns the configured stream name.
func (s *Supervisor) Name() string {
	return s.name
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Restarts returns how many times the stream function has been restarted.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// Start runs the stream in a background goroutine until ctx is cancelled or
// Close is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSupervisorClosed
	case StateIdle:
	default:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.state = StateListening
	cb := s.onStateChange
	s.wg.Add(1)
	s.mu.Unlock()

	if cb != nil {
		cb(StateIdle, StateListening)
	}
	go s.run(ctx)
	return nil
}

// Close stops the supervisor and waits for the stream function to return.
// It is safe to call Close more than once and before Start.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.setState(StateClosed)

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		if !s.setState(StateListening) {
			return
		}

		started := time.Now()
		err := s.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrStreamEnded
		}
		if time.Since(started) > s.backoff.Initial() {
			s.backoff.Reset()
		}

		if !s.setState(StateReconnecting) {
			return
		}
		delay := s.backoff.Next()
		attempt := s.backoff.Attempts()

		s.mu.Lock()
		s.restarts++
		cb := s.onReconnecting
		s.mu.Unlock()

		s.logger.Warn("stream failed, reconnecting",
			"error", err,
			"attempt", attempt,
			"delay", delay)
		if cb != nil {
			cb(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// setState transitions to state unless the supervisor is closed. It reports
// whether the transition happened.
func (s *Supervisor) setState(state State) bool {
	s.mu.Lock()
	old := s.state
	if old == StateClosed || old == state {
		s.mu.Unlock()
		return old != StateClosed
	}
	s.state = state
	cb := s.onStateChange
	s.mu.Unlock()

	if cb != nil {
		cb(old, state)
	}
	return true
}

// OnStateChange sets a callback for state changes.
func (s *Supervisor) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnReconnecting sets a callback invoked before each restart delay with the
// error that ended the previous run.
func (s *Supervisor) OnReconnecting(fn func(attempt int, delay time.Duration, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}
