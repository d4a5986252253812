package rtc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a settable time source.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestClock() (*Clock, *fakeClock) {
	fc := &fakeClock{now: time.Unix(0, 0)}
	c := New(Options{Now: func() time.Time { return fc.now }})
	return c, fc
}

func TestTimeAdvances(t *testing.T) {
	c, fc := newTestClock()

	assert.Equal(t, uint32(0), c.Time())

	fc.advance(90 * time.Second)
	assert.Equal(t, uint32(90), c.Time())

	fc.advance(500 * time.Millisecond)
	assert.Equal(t, uint32(90), c.Time(), "sub-second remainder truncates")
}

func TestHourlyRollover(t *testing.T) {
	c, fc := newTestClock()

	// Two full counter rollovers plus 90 seconds.
	fc.advance(2*time.Hour + 90*time.Second)
	assert.Equal(t, uint32(7290), c.Time())

	// The fold must not double count on the next read.
	fc.advance(10 * time.Second)
	assert.Equal(t, uint32(7300), c.Time())
}

func TestSetTime(t *testing.T) {
	c, fc := newTestClock()

	fc.advance(time.Hour)
	c.SetTime(1000)
	assert.Equal(t, uint32(1000), c.Time(), "counter clears on set")

	fc.advance(30 * time.Second)
	assert.Equal(t, uint32(1030), c.Time())
}

func TestSetTimeThenRollover(t *testing.T) {
	c, fc := newTestClock()

	c.SetTime(5000)
	fc.advance(time.Hour + time.Second)
	assert.Equal(t, uint32(5000+3601), c.Time())
}

func TestSleepMS(t *testing.T) {
	fc := &fakeClock{now: time.Unix(0, 0)}

	waits := 0
	c := New(Options{
		Now: func() time.Time { return fc.now },
		Wait: func() {
			waits++
			fc.advance(time.Millisecond)
		},
	})

	c.SleepMS(5)
	assert.Equal(t, 5, waits)
	assert.Equal(t, uint32(0), c.Time())
}
