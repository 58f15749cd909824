package indicator

import (
	"sync"
	"time"
)

const defaultTapFlash = 250 * time.Millisecond

type led int

const (
	green led = iota
	yellow
	red
)

// lamps drives the physical LEDs. Unconfigured colors are ignored.
type lamps interface {
	set(l led, on bool)
	close() error
}

// Lights implements Indicator on three discrete LEDs.
type Lights struct {
	mu     sync.Mutex
	lamps  lamps
	steady []led
	flash  time.Duration
	timer  *time.Timer
}

func newLights(l lamps, flash time.Duration) *Lights {
	if flash <= 0 {
		flash = defaultTapFlash
	}
	g := &Lights{lamps: l, flash: flash}
	g.allOff()
	return g
}

// Online implements Indicator.Online.
func (g *Lights) Online() {
	g.show(green)
}

// Tap implements Indicator.Tap. Yellow lights up next to the steady state
// for the flash duration.
func (g *Lights) Tap() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}
	g.lamps.set(yellow, true)
	g.timer = time.AfterFunc(g.flash, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.apply()
	})
}

// ConnectionLost implements Indicator.ConnectionLost.
func (g *Lights) ConnectionLost() {
	// Yellow and red together for connection lost
	g.show(yellow, red)
}

// ReaderFault implements Indicator.ReaderFault.
func (g *Lights) ReaderFault() {
	g.show(red)
}

// Shutdown implements Indicator.Shutdown.
func (g *Lights) Shutdown() {
	g.show()
}

// Release implements Indicator.Release.
func (g *Lights) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.steady = nil
	g.allOff()
	return g.lamps.close()
}

func (g *Lights) show(on ...led) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.steady = on
	g.apply()
}

func (g *Lights) apply() {
	g.allOff()
	for _, l := range g.steady {
		g.lamps.set(l, true)
	}
}

func (g *Lights) allOff() {
	for _, l := range []led{green, yellow, red} {
		g.lamps.set(l, false)
	}
}
