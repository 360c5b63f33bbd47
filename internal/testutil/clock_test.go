package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func TestFakeClock_StartsStopped(t *testing.T) {
	c := NewFakeClock(start)
	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	c := NewFakeClock(start)
	assert.Equal(t, start.Add(time.Hour), c.Advance(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Advance(-time.Minute), "never goes backwards")
}

func TestFakeClock_Set(t *testing.T) {
	c := NewFakeClock(start)
	c.Set(start.Add(24 * time.Hour))
	c.Set(start)
	assert.Equal(t, start.Add(24*time.Hour), c.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(start)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Advance(time.Second)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, start.Add(1000*time.Second), c.Now())
}

func TestFakeClock_AfterFuncFiresOnAdvance(t *testing.T) {
	c := NewFakeClock(start)
	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early") })

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, fired)
	assert.Equal(t, 2, c.Pending())

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Zero(t, c.Pending())
}

func TestFakeClock_StopPreventsFiring(t *testing.T) {
	c := NewFakeClock(start)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeClock_SetFiresDueTimers(t *testing.T) {
	c := NewFakeClock(start)
	fired := false
	timer := c.AfterFunc(time.Hour, func() { fired = true })

	c.Set(start.Add(time.Hour))
	assert.True(t, fired)
	assert.False(t, timer.Stop(), "fired timers cannot be stopped")
}

func TestFakeClock_CallbackMayScheduleAgain(t *testing.T) {
	c := NewFakeClock(start)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(time.Second)
	c.Advance(time.Second)
	c.Advance(time.Second)
	assert.Equal(t, 3, count)
}
