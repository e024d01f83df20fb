package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhbmarket/core/events"
	"nhbmarket/core/state"
)

// ErrClosed is returned when a transaction is applied after Close.
var ErrClosed = errors.New("ledger: closed")

// Ledger totally orders marketplace transactions. Each transaction observes a
// fixed, non-decreasing timestamp, writes into the state overlay and buffers
// its notifications; both are released only when the transaction commits.
type Ledger struct {
	mu         sync.Mutex
	state      *state.Manager
	downstream events.Emitter
	clock      func() time.Time

	buffer  []events.Event
	active  bool
	txTime  int64
	lastNow int64
	closed  bool
}

// New constructs a ledger over the provided state manager. Committed events
// are forwarded to downstream.
func New(manager *state.Manager, downstream events.Emitter) *Ledger {
	if downstream == nil {
		downstream = events.NoopEmitter{}
	}
	return &Ledger{state: manager, downstream: downstream, clock: time.Now}
}

// SetClock overrides the wall clock used to stamp transactions. Primarily
// intended for tests.
func (l *Ledger) SetClock(clock func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	l.clock = clock
}

// State exposes the underlying state manager. Callers must only touch it
// inside Apply or View.
func (l *Ledger) State() *state.Manager { return l.state }

// Emitter returns an emitter that buffers events in the active transaction.
// Events emitted outside a transaction are forwarded immediately.
func (l *Ledger) Emitter() events.Emitter { return bufferedEmitter{ledger: l} }

// Now returns the timestamp of the active transaction in unix seconds. Inside
// View it returns the most recent non-decreasing clock reading. Now must only
// be called while Apply or View holds the ledger.
func (l *Ledger) Now() int64 {
	if l.active {
		return l.txTime
	}
	return l.tick()
}

func (l *Ledger) tick() int64 {
	now := l.clock().Unix()
	if now < l.lastNow {
		now = l.lastNow
	}
	l.lastNow = now
	return now
}

// Apply runs fn as a single atomic transaction. Any error or panic discards
// every state write and buffered event; success commits the writes as one
// storage batch and then delivers the buffered events in order.
func (l *Ledger) Apply(ctx context.Context, fn func() error) (err error) {
	if ctx != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	l.active = true
	l.txTime = l.tick()
	l.buffer = nil
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ledger: transaction panicked: %v", r)
		}
		if err != nil {
			l.state.Discard()
			l.buffer = nil
			l.active = false
			return
		}
		if commitErr := l.state.Commit(); commitErr != nil {
			l.state.Discard()
			l.buffer = nil
			l.active = false
			err = commitErr
			return
		}
		pending := l.buffer
		l.buffer = nil
		l.active = false
		for _, evt := range pending {
			l.downstream.Emit(evt)
		}
	}()
	return fn()
}

// View runs fn against committed state without opening a transaction. Writes
// performed by fn are discarded.
func (l *Ledger) View(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	defer l.state.Discard()
	return fn()
}

// Close rejects further transactions.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

type bufferedEmitter struct {
	ledger *Ledger
}

// Emit is only invoked from code running under Apply, which already holds the
// ledger lock.
func (b bufferedEmitter) Emit(evt events.Event) {
	if b.ledger == nil || evt == nil {
		return
	}
	if !b.ledger.active {
		b.ledger.downstream.Emit(evt)
		return
	}
	b.ledger.buffer = append(b.ledger.buffer, evt)
}
