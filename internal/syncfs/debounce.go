package syncfs

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"
)

// Debouncer coalesces bursty RawEvents per path into a single emitted
// event per path, plus an independent batch ticker that flushes whatever
// has accumulated even if individual paths are still debouncing — the
// two-timer model of spec §4.3. Within one path, the last observed event
// type within the debounce window wins (spec §8 invariant); across paths,
// ordering is not guaranteed.
type Debouncer struct {
	mu      gosync.Mutex
	pending map[string]RawEvent
	timers  map[string]*time.Timer
	logger  *slog.Logger

	debounce time.Duration
	batch    time.Duration

	out chan RawEvent
}

// NewDebouncer creates a Debouncer. debounce is the per-path coalescing
// window (debounce_delay_ms); batch is the independent flush tick
// (batch_window_s) that guarantees no event waits forever behind a busy
// path. out is buffered generously since downstream (the sync engine)
// drains it continuously; a full channel would only ever build up under
// sustained backpressure, at which point events still arrive, just later.
func NewDebouncer(debounce, batch time.Duration, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Debouncer{
		pending:  make(map[string]RawEvent),
		timers:   make(map[string]*time.Timer),
		logger:   logger,
		debounce: debounce,
		batch:    batch,
		out:      make(chan RawEvent, 256),
	}
}

// Events returns the channel on which coalesced events are delivered.
func (d *Debouncer) Events() <-chan RawEvent {
	return d.out
}

// Add records a new raw event for its path, canceling any in-flight
// per-path timer and starting a fresh one. The last event type observed
// within the debounce window is the one eventually emitted.
func (d *Debouncer) Add(ev RawEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[ev.Path] = ev

	if t, ok := d.timers[ev.Path]; ok {
		t.Stop()
	}

	path := ev.Path
	d.timers[path] = time.AfterFunc(d.debounce, func() { d.fireOne(path) })
}

// fireOne emits (and clears) the pending event for a single path once its
// debounce timer expires.
func (d *Debouncer) fireOne(path string) {
	d.mu.Lock()
	ev, ok := d.pending[path]
	if ok {
		delete(d.pending, path)
		delete(d.timers, path)
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	d.emit(ev)
}

// emit sends ev downstream. If the consumer has stalled badly enough to
// fill the buffered channel, it logs a warning and then blocks until the
// consumer takes the event.
func (d *Debouncer) emit(ev RawEvent) {
	select {
	case d.out <- ev:
	default:
		d.logger.Warn("syncfs: debounced event channel full, blocking", "path", ev.Path)
		d.out <- ev
	}
}

// Run starts the independent batch ticker, which flushes any paths whose
// per-path timer has not yet fired — guaranteeing a bounded worst-case
// latency even under a continuous stream of per-path resets. Run blocks
// until ctx is canceled, then performs one final flush and closes Events().
func (d *Debouncer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.batch)
	defer ticker.Stop()
	defer close(d.out)

	for {
		select {
		case <-ctx.Done():
			d.flushAll()
			return

		case <-ticker.C:
			d.flushAll()
		}
	}
}

// flushAll emits every currently pending event, stopping their individual
// timers first so they don't double-fire.
func (d *Debouncer) flushAll() {
	d.mu.Lock()
	events := make([]RawEvent, 0, len(d.pending))

	for path, ev := range d.pending {
		if t, ok := d.timers[path]; ok {
			t.Stop()
		}

		events = append(events, ev)
	}

	d.pending = make(map[string]RawEvent)
	d.timers = make(map[string]*time.Timer)
	d.mu.Unlock()

	for _, ev := range events {
		d.emit(ev)
	}
}
