// Package stream moves buffers between the client and a display sink:
// pending buffers are submitted in order, completions come back over a
// per-session channel, and completed buffers wait for the client to dequeue
// them.
package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lanikai/vout/internal/buffer"
	"github.com/lanikai/vout/internal/display"
	"github.com/lanikai/vout/internal/invariant"
	"github.com/lanikai/vout/internal/logging"
	"github.com/lanikai/vout/internal/queue"
	"github.com/lanikai/vout/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("stream")

// Completions buffered between the sink and the session goroutine.
const eventBacklog = 64

type Stats struct {
	Submitted uint64
	Completed uint64
	Dequeued  uint64
	Dropped   uint64

	// Submissions the sink turned away as busy.
	Retries uint64
}

type completion struct {
	h     buffer.Handle
	stats display.Stats
}

// session is one stream on/off cycle. Callbacks carry the session they were
// submitted under, so anything arriving after stream off is recognisably
// stale.
type session struct {
	id     uuid.UUID
	events chan completion
	kick   chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

func newSession() *session {
	return &session{
		id:     uuid.New(),
		events: make(chan completion, eventBacklog),
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// poke asks for another submission attempt.
func (s *session) poke() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

type Controller struct {
	stats Stats

	pool     *buffer.Pool
	sink     display.Sink
	observer Observer

	pending  *queue.Queue
	complete *queue.Queue

	// Serializes stream on and off, enqueue and submission.
	mu sync.Mutex

	// Interlaced frame whose first field the sink already holds.
	partial    buffer.Handle
	hasPartial bool

	// Completions hold state for reading while they move a buffer, so a
	// stream off that takes it for writing has waited them out.
	state   sync.RWMutex
	session *session

	waitMu sync.Mutex
	wake   chan struct{}

	sequence uint32
}

// New returns an idle controller. obs may be nil.
func New(pool *buffer.Pool, sink display.Sink, obs Observer) *Controller {
	return &Controller{
		pool:     pool,
		sink:     sink,
		observer: obs,
		pending:  queue.New(8),
		complete: queue.New(8),
		wake:     make(chan struct{}),
	}
}

func (c *Controller) current() *session {
	c.state.RLock()
	defer c.state.RUnlock()
	return c.session
}

func (c *Controller) Streaming() bool {
	return c.current() != nil
}

// SessionID identifies the running session, or is empty when idle.
func (c *Controller) SessionID() string {
	if s := c.current(); s != nil {
		return s.id.String()
	}
	return ""
}

func (c *Controller) Pending() int {
	return c.pending.Len()
}

func (c *Controller) Completed() int {
	return c.complete.Len()
}

func (c *Controller) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadUint64(&c.stats.Submitted),
		Completed: atomic.LoadUint64(&c.stats.Completed),
		Dequeued:  atomic.LoadUint64(&c.stats.Dequeued),
		Dropped:   atomic.LoadUint64(&c.stats.Dropped),
		Retries:   atomic.LoadUint64(&c.stats.Retries),
	}
}

func (c *Controller) emit(ev Event) {
	if c.observer != nil {
		ev.Index = ev.Buffer.Index
		c.observer(ev)
	}
}

// signal returns the channel the next broadcast will close.
func (c *Controller) signal() <-chan struct{} {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	return c.wake
}

func (c *Controller) broadcast() {
	c.waitMu.Lock()
	close(c.wake)
	c.wake = make(chan struct{})
	c.waitMu.Unlock()
}

// Enqueue hands an idle buffer to the controller. It is submitted right away
// when streaming, otherwise on stream on.
func (c *Controller) Enqueue(h buffer.Handle) error {
	d, err := c.pool.Get(h)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !d.TryMove(buffer.Idle, buffer.Queued) {
		return ErrAlreadyQueued
	}
	c.pending.PushBack(h)
	s := c.current()
	var id string
	if s != nil {
		id = s.id.String()
	}
	c.emit(Event{Type: EventQueued, Session: id, Buffer: h})

	if s != nil {
		c.submitPending(s)
	}
	return nil
}

// SubmitPending offers pending buffers to the sink in order until it runs out
// of room. Buffers it turns away stay at the head of the pending queue.
func (c *Controller) SubmitPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.current(); s != nil {
		c.submitPending(s)
	}
}

func (c *Controller) submitPending(s *session) {
	for {
		h, ok := c.pending.Front()
		if !ok {
			return
		}
		d, err := c.pool.Get(h)
		if err != nil {
			invariant.Violated("stream: pending %v: %v", h, err)
			c.pending.PopFrontIf(h)
			continue
		}
		if !d.Move(buffer.Queued, buffer.InFlight) {
			c.pending.PopFrontIf(h)
			continue
		}
		c.pending.PopFrontIf(h)

		if err := c.submit(s, d); err != nil {
			c.pending.PushFront(h)
			d.Move(buffer.InFlight, buffer.Queued)
			if display.IsBusy(err) {
				atomic.AddUint64(&c.stats.Retries, 1)
				log.Trace(1, "buffer %v deferred: %v", h, err)
			} else {
				log.Warn("buffer %v rejected: %v", h, err)
			}
			return
		}

		atomic.AddUint64(&c.stats.Submitted, 1)
		log.Trace(2, "buffer %v submitted", h)
		c.emit(Event{Type: EventSubmitted, Session: s.id.String(), Buffer: h})
	}
}

// submit queues one buffer with the sink, as two field submissions for an
// interlaced frame.
func (c *Controller) submit(s *session, d *buffer.Descriptor) error {
	h := d.Handle()
	b := d.Header
	b.Info.OnDisplay = func(t int64) { c.displayed(s, h, t) }
	b.Info.OnCompleted = func(st display.Stats) { c.completed(s, h, st) }

	first, second, split := display.Split(&b)
	if !split {
		return c.sink.Queue(&b)
	}

	if !c.hasPartial || c.partial != h {
		if err := c.sink.Queue(&first); err != nil {
			return err
		}
		if second.Info.NFields == 0 {
			return nil
		}
		c.partial, c.hasPartial = h, true
	}
	if err := c.sink.Queue(&second); err != nil {
		return err
	}
	c.hasPartial = false
	return nil
}

func (c *Controller) displayed(s *session, h buffer.Handle, t int64) {
	if c.current() != s {
		return
	}
	d, err := c.pool.Get(h)
	if err != nil {
		return
	}
	d.SetTimestamp(v4l2.TimevalFromMicros(t))
	c.emit(Event{Type: EventDisplayed, Session: s.id.String(), Buffer: h, Time: t})

	// The sink took a submission off its queue.
	s.poke()
}

// completed runs on the sink's goroutine and only forwards the event.
func (c *Controller) completed(s *session, h buffer.Handle, st display.Stats) {
	select {
	case <-s.quit:
		log.Trace(1, "late completion of %v dropped", h)
		return
	default:
	}
	select {
	case s.events <- completion{h, st}:
	case <-s.quit:
	}
}

// drain moves completed buffers to the complete queue for the life of a
// session.
func (c *Controller) drain(s *session) {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			c.finish(s, ev)
		case <-s.quit:
			// Whatever a flush produced before quit is still this session's.
			for {
				select {
				case ev := <-s.events:
					c.finish(s, ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) finish(s *session, ev completion) {
	c.state.RLock()
	if c.session != s {
		c.state.RUnlock()
		log.Trace(1, "completion of %v after stream off", ev.h)
		return
	}
	d, err := c.pool.Get(ev.h)
	if err != nil {
		c.state.RUnlock()
		invariant.Violated("stream: completion of %v: %v", ev.h, err)
		return
	}
	if !d.Move(buffer.InFlight, buffer.Done) {
		c.state.RUnlock()
		return
	}
	seq := atomic.AddUint32(&c.sequence, 1) - 1
	d.SetSequence(seq)
	c.complete.PushBack(ev.h)
	c.state.RUnlock()

	atomic.AddUint64(&c.stats.Completed, 1)
	if ev.stats.Flushed {
		log.Trace(2, "buffer %v flushed after %d fields", ev.h, ev.stats.Fields)
	}
	c.broadcast()
	c.emit(Event{
		Type:     EventCompleted,
		Session:  s.id.String(),
		Buffer:   ev.h,
		Time:     ev.stats.Time,
		Fields:   ev.stats.Fields,
		Sequence: seq,
	})
	s.poke()
}

// resubmit retries pending buffers whenever the sink may have made room.
func (c *Controller) resubmit(s *session) {
	for {
		select {
		case <-s.kick:
		case <-s.quit:
			return
		}
		c.mu.Lock()
		if c.current() == s {
			c.submitPending(s)
		}
		c.mu.Unlock()
	}
}

// Dequeue returns the oldest completed buffer to the client. When block is
// set it waits for one; it gives up with io.EOF once the stream is off.
func (c *Controller) Dequeue(ctx context.Context, block bool) (v4l2.BufferInfo, error) {
	for {
		wake := c.signal()

		if h, ok := c.complete.PopFront(); ok {
			d, err := c.pool.Get(h)
			if err != nil {
				invariant.Violated("stream: complete %v: %v", h, err)
				continue
			}
			info, _ := d.Release()
			atomic.AddUint64(&c.stats.Dequeued, 1)
			c.emit(Event{Type: EventDequeued, Session: c.SessionID(), Buffer: h})
			return info, nil
		}

		if !block {
			return v4l2.BufferInfo{}, ErrWouldBlock
		}
		if !c.Streaming() {
			return v4l2.BufferInfo{}, io.EOF
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return v4l2.BufferInfo{}, ctx.Err()
		}
	}
}

// StreamOn takes the display plane and submits whatever is pending.
func (c *Controller) StreamOn() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current() != nil {
		return ErrAlreadyStreaming
	}
	if err := c.sink.Lock(); err != nil {
		return errors.Wrap(err, "stream on")
	}

	s := newSession()
	atomic.StoreUint32(&c.sequence, 0)
	c.state.Lock()
	c.session = s
	c.state.Unlock()

	go c.drain(s)
	go c.resubmit(s)

	log.Info("stream %s on with %d pending", s.id, c.pending.Len())
	c.emit(Event{Type: EventStreamOn, Session: s.id.String()})
	c.submitPending(s)
	return nil
}

// StreamOff returns every buffer to the client's side and releases the
// plane. Buffers in any queue are discarded, not dequeued. Calling it while
// idle does nothing.
func (c *Controller) StreamOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current()
	if s == nil {
		return nil
	}

	for _, h := range c.pending.Drain() {
		c.discard(s, h, buffer.Queued)
	}
	c.hasPartial = false

	// Completions fire before Flush returns and reach the complete queue
	// through the still running drain.
	if err := c.sink.Flush(); err != nil {
		log.Warn("stream %s: flush: %v", s.id, err)
	}

	close(s.quit)
	<-s.done

	c.state.Lock()
	c.session = nil
	c.state.Unlock()

	for late := true; late; {
		select {
		case ev := <-s.events:
			c.discard(s, ev.h, buffer.InFlight)
		default:
			late = false
		}
	}
	for _, h := range c.complete.Drain() {
		c.discard(s, h, buffer.Done)
	}
	c.pool.Each(func(d *buffer.Descriptor) {
		if d.TryMove(buffer.InFlight, buffer.Idle) {
			log.Warn("stream %s: buffer %v never completed", s.id, d.Handle())
		}
	})

	if err := c.sink.Unlock(); err != nil {
		log.Warn("stream %s: unlock: %v", s.id, err)
	}

	c.broadcast()
	log.Info("stream %s off", s.id)
	c.emit(Event{Type: EventStreamOff, Session: s.id.String()})
	return nil
}

func (c *Controller) discard(s *session, h buffer.Handle, from buffer.State) {
	d, err := c.pool.Get(h)
	if err != nil {
		return
	}
	if d.Move(from, buffer.Idle) {
		atomic.AddUint64(&c.stats.Dropped, 1)
		c.emit(Event{Type: EventDropped, Session: s.id.String(), Buffer: h})
	}
}

// Reset drops pending buffers while idle, before the pool is reallocated.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current() != nil {
		return ErrStreaming
	}
	for _, h := range c.pending.Drain() {
		if d, err := c.pool.Get(h); err == nil {
			d.Move(buffer.Queued, buffer.Idle)
		}
	}
	c.hasPartial = false
	for _, h := range c.complete.Drain() {
		if d, err := c.pool.Get(h); err == nil {
			d.Move(buffer.Done, buffer.Idle)
		}
	}
	return nil
}
