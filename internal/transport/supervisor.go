package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/claudesync/claudesync/internal/offlinequeue"
	"github.com/claudesync/claudesync/internal/retry"
)

// State is the network supervisor's connectivity state machine.
type State int

const (
	StateOnline State = iota
	StateOffline
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Prober checks whether the server is currently reachable.
type Prober func(ctx context.Context) error

// Supervisor tracks connectivity and redirects outbound operations to an
// offline queue while disconnected, draining the queue through a
// retry.Executor once connectivity returns. Operation is whatever
// replayable payload the caller's transport layer needs (an RPC request
// envelope, a file-change notification, etc).
type Supervisor[T any] struct {
	mu    sync.RWMutex
	state State

	prober      Prober
	probeEvery  time.Duration
	queue       *offlinequeue.Queue[T]
	executor    *retry.Executor
	replay      func(ctx context.Context, item T) error
	logger      *slog.Logger
	subscribers []chan State
}

// SupervisorConfig wires a Supervisor's collaborators.
type SupervisorConfig[T any] struct {
	Prober      Prober
	ProbeEvery  time.Duration
	QueueSize   int
	Executor    *retry.Executor
	Replay      func(ctx context.Context, item T) error
	Logger      *slog.Logger
}

// NewSupervisor constructs a Supervisor starting in StateOnline (optimistic
// until the first failed probe or Submit).
func NewSupervisor[T any](cfg SupervisorConfig[T]) *Supervisor[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor[T]{
		state:      StateOnline,
		prober:     cfg.Prober,
		probeEvery: cfg.ProbeEvery,
		queue:      offlinequeue.New[T](cfg.QueueSize),
		executor:   cfg.Executor,
		replay:     cfg.Replay,
		logger:     logger,
	}
}

// State returns the supervisor's current connectivity state.
func (s *Supervisor[T]) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// QueueLen reports how many operations are currently buffered offline.
func (s *Supervisor[T]) QueueLen() int {
	return s.queue.Len()
}

// Subscribe returns a channel that receives state transitions. The
// channel is buffered (size 8); a transition sent while it is full is
// dropped, so a slow subscriber may miss any transition, the latest
// included.
func (s *Supervisor[T]) Subscribe() <-chan State {
	ch := make(chan State, 8)

	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	return ch
}

func (s *Supervisor[T]) setState(next State) {
	s.mu.Lock()
	changed := s.state != next
	s.state = next
	subs := s.subscribers
	s.mu.Unlock()

	if !changed {
		return
	}

	s.logger.Info("transport: network state changed", "state", next.String())

	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
}

// Submit attempts op immediately via send. If the supervisor is offline,
// or send fails, op is pushed to the offline queue for later replay
// instead of being lost.
func (s *Supervisor[T]) Submit(ctx context.Context, op T, send func(ctx context.Context, op T) error) error {
	if s.State() != StateOnline {
		return s.enqueue(op)
	}

	if err := send(ctx, op); err != nil {
		s.setState(StateOffline)
		return s.enqueue(op)
	}

	return nil
}

func (s *Supervisor[T]) enqueue(op T) error {
	if err := s.queue.Push(op); err != nil {
		return err
	}

	s.logger.Debug("transport: operation queued offline", "queue_len", s.queue.Len())

	return nil
}

// Run starts the periodic connectivity probe loop. On a failed probe it
// transitions to StateOffline; on a succeeding probe while offline it
// transitions through StateReconnecting, drains the offline queue via the
// retry executor, and settles on StateOnline. Blocks until ctx is canceled.
func (s *Supervisor[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(s.probeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func (s *Supervisor[T]) probeOnce(ctx context.Context) {
	err := s.prober(ctx)

	if err != nil {
		s.setState(StateOffline)
		return
	}

	if s.State() == StateOnline {
		return
	}

	s.setState(StateReconnecting)
	s.drain(ctx)
	s.setState(StateOnline)
}

// drain replays every queued operation in FIFO order through the retry
// executor. An operation that still fails after retry exhaustion is
// requeued, rather than silently dropped, so a subsequent reconnect can
// try again.
func (s *Supervisor[T]) drain(ctx context.Context) {
	items := s.queue.Drain()
	if len(items) == 0 {
		return
	}

	s.logger.Info("transport: replaying queued operations", "count", len(items))

	for _, item := range items {
		item := item

		err := s.executor.Do(ctx, "offline-replay", func(ctx context.Context) error {
			return s.replay(ctx, item)
		})

		if err != nil {
			s.logger.Warn("transport: replay failed, requeuing", "error", err)
			_ = s.queue.Push(item)
		}
	}
}
