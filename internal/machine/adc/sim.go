package adc

import "sync"

// SimSource is a settable analog world for tests and the simulator.
type SimSource struct {
	mu    sync.Mutex
	volts map[Input]float64
}

func NewSimSource() *SimSource {
	return &SimSource{volts: make(map[Input]float64)}
}

// Set places a voltage on an analog input.
func (s *SimSource) Set(in Input, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volts[in] = v
}

// Voltage implements Source.
func (s *SimSource) Voltage(in Input) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volts[in]
}
