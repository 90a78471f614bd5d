package hw

import (
	"sync"
	"time"
)

// FakeClock is a Clock that advances by Step every time it is read.
type FakeClock struct {
	mu   sync.Mutex
	t    time.Time
	Step time.Duration
}

func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{t: start, Step: step}
}

// Now returns the current fake time, then advances it by Step.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.Step)
	return t
}

// Peek returns the current fake time without advancing it.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// FakeOutput records every level written to it.
type FakeOutput struct {
	mu      sync.Mutex
	Writes  []bool
	Err     error
	closed  bool
	OnWrite func(high bool)
}

func (o *FakeOutput) Set(high bool) error {
	o.mu.Lock()
	if o.Err != nil {
		o.mu.Unlock()
		return o.Err
	}
	o.Writes = append(o.Writes, high)
	cb := o.OnWrite
	o.mu.Unlock()

	if cb != nil {
		cb(high)
	}
	return nil
}

// Level returns the last level written, or false.
func (o *FakeOutput) Level() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Writes) == 0 {
		return false
	}
	return o.Writes[len(o.Writes)-1]
}

func (o *FakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *FakeOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// FakeInput returns Levels in order on successive reads. Once exhausted,
// the last level is repeated. Func, if set, takes precedence.
type FakeInput struct {
	mu     sync.Mutex
	Levels []bool
	Func   func() bool
	reads  int
}

func (i *FakeInput) Read() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.reads++
	if i.Func != nil {
		return i.Func()
	}
	if len(i.Levels) == 0 {
		return false
	}
	idx := i.reads - 1
	if idx >= len(i.Levels) {
		idx = len(i.Levels) - 1
	}
	return i.Levels[idx]
}

func (i *FakeInput) Reads() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reads
}

// FakePWM records every duty cycle written to it.
type FakePWM struct {
	mu     sync.Mutex
	Duties []float64
	Err    error
	closed bool
}

func (p *FakePWM) SetDutyCycle(percent float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Duties = append(p.Duties, percent)
	return nil
}

func (p *FakePWM) History() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.Duties...)
}

func (p *FakePWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *FakePWM) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
