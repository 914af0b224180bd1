// Package dispatch serializes push-event handling per session so the
// websocket reader never blocks on merging.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/ambuwatch/internal/types"
)

// DefaultLaneSize is the buffer of each session lane.
const DefaultLaneSize = 256

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("dispatch queue stopped")

// Handler applies one event. It runs on the session's lane goroutine.
type Handler func(ctx context.Context, ev *types.PushEvent)

// Queue keeps one FIFO lane per session. Events within a lane are handled
// strictly in arrival order; the semaphore bounds how many lanes run a
// handler at the same time.
type Queue struct {
	lanes     map[types.SessionID]chan *types.PushEvent
	semaphore *semaphore.Weighted
	handler   Handler
	laneSize  int
	pending   atomic.Int64
	handled   atomic.Int64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that lets up to maxConcurrent lanes run their
// handler simultaneously.
func NewQueue(maxConcurrent int64, handler Handler) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.SessionID]chan *types.PushEvent),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		handler:   handler,
		laneSize:  DefaultLaneSize,
	}
}

// Start sets the context handlers run under. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes every lane and waits for the lane
// goroutines to exit. Events still buffered are dropped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	q.stopped = true
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends ev to its session's lane, creating the lane on first use.
func (q *Queue) Enqueue(ev *types.PushEvent) error {
	if ev == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.ctx == nil {
		return ErrStopped
	}

	lane, ok := q.lanes[ev.SessionID]
	if !ok {
		lane = make(chan *types.PushEvent, q.laneSize)
		q.lanes[ev.SessionID] = lane
		q.wg.Add(1)
		go q.drain(ev.SessionID, lane)
	}

	select {
	case lane <- ev:
		q.pending.Add(1)
		return nil
	default:
		return fmt.Errorf("lane full for session %s", ev.SessionID)
	}
}

// Drop closes a session's lane. Events already buffered are still handled.
func (q *Queue) Drop(sessionID types.SessionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if lane, ok := q.lanes[sessionID]; ok {
		close(lane)
		delete(q.lanes, sessionID)
	}
}

func (q *Queue) drain(sessionID types.SessionID, lane chan *types.PushEvent) {
	defer q.wg.Done()
	for {
		select {
		case ev, ok := <-lane:
			if !ok {
				return
			}
			q.handle(sessionID, ev)
		case <-q.ctx.Done():
			for {
				select {
				case _, ok := <-lane:
					if !ok {
						return
					}
					q.pending.Add(-1)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) handle(sessionID types.SessionID, ev *types.PushEvent) {
	defer q.pending.Add(-1)
	if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
		return
	}
	defer q.semaphore.Release(1)
	if q.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("push event handler panicked", "session_id", string(sessionID), "event", string(ev.Kind), "panic", r)
		}
	}()
	q.handler(q.ctx, ev)
	q.handled.Add(1)
}

// Handled returns the number of events handled so far.
func (q *Queue) Handled() int64 {
	return q.handled.Load()
}

// WaitIdle blocks until every enqueued event has been handled, or the
// timeout expires. Returns true if idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
