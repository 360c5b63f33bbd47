// Package density converts interaction history into a bounded density score.
//
// Density is an exponential moving average of the share of advanced and
// expert interactions over a trailing window:
//
//	density_new = density_old + α · (observedRatio − density_old)
//
// clamped to [0,1]. An area starts at its configured default density. An
// override freezes density until it is cleared.
package density

import (
	"iter"
	"math"

	"github.com/roach88/reveal/internal/ir"
)

const (
	// DefaultLearningRate is the EMA weight α given to each observation.
	DefaultLearningRate = 0.1

	// DefaultEpsilon is the minimal change that counts as an adaptation.
	DefaultEpsilon = 1e-3

	// DefaultWindow is the number of trailing interactions observed.
	DefaultWindow = 50
)

// Option configures a Calculator.
type Option func(*Calculator)

// WithLearningRate sets α. Values outside (0,1] are ignored.
func WithLearningRate(alpha float64) Option {
	return func(c *Calculator) {
		if alpha > 0 && alpha <= 1 {
			c.alpha = alpha
		}
	}
}

// WithEpsilon sets the adaptation threshold.
func WithEpsilon(eps float64) Option {
	return func(c *Calculator) {
		if eps >= 0 {
			c.epsilon = eps
		}
	}
}

// WithWindow sets how many trailing interactions are observed.
func WithWindow(n int) Option {
	return func(c *Calculator) {
		if n > 0 {
			c.window = n
		}
	}
}

// Calculator computes area densities. It holds configuration only and is
// safe to share.
type Calculator struct {
	alpha   float64
	epsilon float64
	window  int
}

// New creates a Calculator with defaults applied.
func New(opts ...Option) *Calculator {
	c := &Calculator{
		alpha:   DefaultLearningRate,
		epsilon: DefaultEpsilon,
		window:  DefaultWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LearningRate returns α.
func (c *Calculator) LearningRate() float64 { return c.alpha }

// Result describes one density computation.
type Result struct {
	Density       float64
	AdvancedRatio float64
	// Changed is true when the stored density moved at all.
	Changed bool
	// Adapted is true when the move exceeded epsilon.
	Adapted bool
	// Overridden is true when an override short-circuited the update.
	Overridden bool
}

// Compute updates state.Density from history and returns the result.
//
// With an override set, Compute returns the override value and leaves the
// adapted density untouched. With no history, density is left as is.
func (c *Calculator) Compute(state *ir.AreaState, history iter.Seq[ir.Interaction]) Result {
	if state.Override != nil {
		return Result{
			Density:       Clamp(state.Override.Density),
			AdvancedRatio: state.AdvancedRatio,
			Overridden:    true,
		}
	}

	ratio, total := c.ObservedRatio(history)
	if total == 0 {
		return Result{Density: state.Density, AdvancedRatio: state.AdvancedRatio}
	}

	old := state.Density
	next := Clamp(old + c.alpha*(ratio-old))
	if math.IsNaN(next) {
		next = Clamp(state.DefaultDensity)
	}

	state.Density = next
	state.AdvancedRatio = ratio

	return Result{
		Density:       next,
		AdvancedRatio: ratio,
		Changed:       next != old,
		Adapted:       math.Abs(next-old) > c.epsilon,
	}
}

// ObservedRatio returns the share of advanced and expert interactions among
// the trailing window of history, and the number of interactions observed.
func (c *Calculator) ObservedRatio(history iter.Seq[ir.Interaction]) (float64, int) {
	if history == nil {
		return 0, 0
	}
	ring := make([]bool, c.window)
	seen := 0
	for in := range history {
		ring[seen%c.window] = in.Category.IsAdvanced()
		seen++
	}
	total := min(seen, c.window)
	if total == 0 {
		return 0, 0
	}
	advanced := 0
	for i := 0; i < total; i++ {
		if ring[i] {
			advanced++
		}
	}
	return float64(advanced) / float64(total), total
}

// Clamp bounds a density to [0,1]. NaN maps to 0.
func Clamp(d float64) float64 {
	switch {
	case math.IsNaN(d):
		return 0
	case d < 0:
		return 0
	case d > 1:
		return 1
	default:
		return d
	}
}
