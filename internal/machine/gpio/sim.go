package gpio

import "sync"

// Sim is an in-memory Controller. Tests drive input pins with Stimulate
// to model the external signal.
type Sim struct {
	mu   sync.Mutex
	pins map[int]*simPin
}

type simPin struct {
	cfg      Config
	level    int
	driven   bool
	watcher  func(level int)
	external int
}

// NewSim returns an empty pin controller.
func NewSim() *Sim {
	return &Sim{pins: make(map[int]*simPin)}
}

func (s *Sim) pin(n int) *simPin {
	p, ok := s.pins[n]
	if !ok {
		p = &simPin{}
		s.pins[n] = p
	}
	return p
}

// Configure implements Controller.
func (s *Sim) Configure(n int, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pin(n)
	p.cfg = cfg
	if cfg.Dir == Input && !p.driven {
		p.external = pullLevel(cfg.Pull)
	}
}

// Write implements Controller. Writes to input pins are ignored.
func (s *Sim) Write(n int, level int) {
	s.mu.Lock()
	p := s.pin(n)
	if p.cfg.Dir != Output {
		s.mu.Unlock()
		return
	}
	changed := p.level != level
	p.level = level
	watcher := p.watcher
	s.mu.Unlock()

	if changed && watcher != nil {
		watcher(level)
	}
}

// Read implements Controller. Input pins read the external signal, or
// their pull level when nothing drives them.
func (s *Sim) Read(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pin(n)
	if p.cfg.Dir == Output {
		return p.level
	}
	if p.driven {
		return p.external
	}
	return pullLevel(p.cfg.Pull)
}

// Watch implements Controller.
func (s *Sim) Watch(n int, fn func(level int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin(n).watcher = fn
}

// Unwatch implements Controller.
func (s *Sim) Unwatch(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin(n).watcher = nil
}

// Stimulate drives an input pin from outside, firing the pin's watcher
// on a level change.
func (s *Sim) Stimulate(n int, level int) {
	s.mu.Lock()
	p := s.pin(n)
	was := p.external
	if !p.driven {
		was = pullLevel(p.cfg.Pull)
	}
	p.driven = true
	p.external = level
	watcher := p.watcher
	input := p.cfg.Dir == Input
	s.mu.Unlock()

	if input && was != level && watcher != nil {
		watcher(level)
	}
}

func pullLevel(p Pull) int {
	if p == PullUp {
		return 1
	}
	return 0
}
