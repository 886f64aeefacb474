package display

import (
	"sync"
	"time"
)

type SimulatorConfig struct {
	Caps Caps
	Mode Mode

	// Hardware queue depth, not counting the buffer on screen.
	QueueDepth int

	// Time between vsyncs. Zero means Mode.FieldPeriod.
	VSync time.Duration

	// Do not start a vsync goroutine; the owner calls Tick.
	Manual bool
}

type simEntry struct {
	buf       Buffer
	remaining int
	shown     int
}

// Simulator is a Sink that presents buffers on a simulated vsync. Each tick
// shows one field; a submission stays on screen for its NFields ticks and is
// retired when the next one replaces it. Persistent buffers stay on screen
// until replaced or flushed. Presentation times are not honoured; buffers are
// shown in queue order.
type Simulator struct {
	cfg SimulatorConfig

	// Called for every submission before it is accepted. A non-nil error
	// rejects it. Used to inject busy conditions and to observe traffic.
	QueueHook func(b *Buffer) error

	mu       sync.Mutex
	locked   bool
	queue    []*simEntry
	current  *simEntry
	clock    int64
	colorKey ColorKey
	retired  int

	stop chan struct{}
	done chan struct{}
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1
	}
	if cfg.VSync == 0 {
		cfg.VSync = cfg.Mode.FieldPeriod
	}
	if cfg.VSync <= 0 {
		cfg.VSync = 20 * time.Millisecond
	}
	s := &Simulator{cfg: cfg}
	if !cfg.Manual {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run()
	}
	return s
}

func (s *Simulator) run() {
	defer close(s.done)
	t := time.NewTicker(s.cfg.VSync)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Tick()
		case <-s.stop:
			return
		}
	}
}

// Close stops the vsync goroutine.
func (s *Simulator) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	return nil
}

func (s *Simulator) Queue(b *Buffer) error {
	if s.QueueHook != nil {
		if err := s.QueueHook(b); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return ErrNotLocked
	}
	if len(s.queue) >= s.cfg.QueueDepth {
		return ErrQueueFull
	}
	n := b.Info.NFields
	if n < 1 {
		n = 1
	}
	s.queue = append(s.queue, &simEntry{buf: *b, remaining: n})
	log.Trace(2, "queued %#x nfields=%d depth=%d", b.Src.Picture.Addr, n, len(s.queue))
	return nil
}

// Tick advances the display by one vsync and fires the resulting callbacks.
func (s *Simulator) Tick() {
	var retire, show *simEntry

	s.mu.Lock()
	s.clock += s.cfg.VSync.Microseconds()
	now := s.clock
	if cur := s.current; cur != nil {
		cur.remaining--
		cur.shown++
		if cur.remaining <= 0 {
			if len(s.queue) > 0 || cur.buf.Info.Flags&InfoPersistent == 0 {
				retire = cur
				s.current = nil
			}
		}
	}
	if s.current == nil && len(s.queue) > 0 {
		show = s.queue[0]
		s.queue = s.queue[1:]
		s.current = show
	}
	if retire != nil {
		s.retired++
	}
	s.mu.Unlock()

	if retire != nil && retire.buf.Info.OnCompleted != nil {
		retire.buf.Info.OnCompleted(Stats{Fields: retire.shown, Time: now})
	}
	if show != nil && show.buf.Info.OnDisplay != nil {
		show.buf.Info.OnDisplay(now)
	}
}

// Flush retires the buffer on screen and everything queued, firing their
// completion callbacks before it returns.
func (s *Simulator) Flush() error {
	s.mu.Lock()
	var entries []*simEntry
	if s.current != nil {
		entries = append(entries, s.current)
		s.current = nil
	}
	entries = append(entries, s.queue...)
	s.queue = nil
	s.retired += len(entries)
	now := s.clock
	s.mu.Unlock()

	for _, e := range entries {
		if e.buf.Info.OnCompleted != nil {
			e.buf.Info.OnCompleted(Stats{Fields: e.shown, Time: now, Flushed: true})
		}
	}
	return nil
}

func (s *Simulator) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrLocked
	}
	s.locked = true
	return nil
}

func (s *Simulator) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return ErrNotLocked
	}
	s.locked = false
	return nil
}

func (s *Simulator) SetColorKey(ck ColorKey) error {
	s.mu.Lock()
	s.colorKey = ck
	s.mu.Unlock()
	return nil
}

func (s *Simulator) ColorKey() ColorKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colorKey
}

func (s *Simulator) Capabilities() (Caps, error) {
	return s.cfg.Caps, nil
}

func (s *Simulator) Mode() (Mode, error) {
	return s.cfg.Mode, nil
}

// Pending returns the number of submissions queued behind the one on screen.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Retired returns the number of submissions retired so far.
func (s *Simulator) Retired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}
