// Package clock implements the fault-tolerant, trimmed-mean time
// synchronization scheme described in spec §4.6: a Clock combines its own
// elapsed ticks with reports from any number of Sources to produce a
// consensus-approximated systime, and a monotime that tracks it without
// ever retreating.
package clock

import (
	"sort"

	"github.com/luxfi/praefectus/object"
)

// Source is a reference to what some external source believes the current
// time is. Every Source belongs to exactly one Clock, which extrapolates
// its reports forward using the Clock's own tick counter.
type Source struct {
	// latest is the greatest time ever reported by this source. Zero means
	// the source has not yet reported anything.
	latest object.Instant
	// lastUpdate is the clock tick at which this source was last updated,
	// net of its reported latency.
	lastUpdate uint
}

// Sample records instant as reported by this source, with an estimated
// latency (in ticks) for that report. Reports that regress latest are
// ignored.
func (s *Source) Sample(clock *Clock, instant object.Instant, latency uint) {
	if instant < s.latest {
		return
	}
	s.latest = instant
	if latency <= clock.ticks {
		s.lastUpdate = clock.ticks - latency
	} else {
		s.lastUpdate = 0
	}
}

// Clock synchronizes local time with any number of Sources. The zero value
// is usable directly with obsolescenceInterval and tolerance both zero;
// use New to set them explicitly.
type Clock struct {
	// Monotime is the current monotonically-increasing time. It never
	// decreases; when it needs correcting downward, its advancement is
	// slowed instead until it meets Systime.
	Monotime object.Instant
	// Systime is the trimmed-mean consensus time derived from sources each
	// tick. It carries no monotonicity guarantee of its own.
	Systime object.Instant

	ticks uint

	// obsolescenceInterval bounds how many ticks a source's last report may
	// age before it is excluded from sampling.
	obsolescenceInterval uint
	// tolerance is the maximum |drift| before monotime stops tracking
	// systime exactly and instead catches up at half speed.
	tolerance uint
	// drift is the running integral of (monotime - systime) over time,
	// debouncing momentary variation in systime.
	drift int64

	sources []*Source
}

// New returns a Clock with all times at zero and no sources.
func New(obsolescenceInterval, tolerance uint) *Clock {
	return &Clock{obsolescenceInterval: obsolescenceInterval, tolerance: tolerance}
}

// Ticks returns the number of ticks this clock has been advanced by.
func (c *Clock) Ticks() uint { return c.ticks }

// AddSource registers and returns a new Source tracked by this clock.
func (c *Clock) AddSource() *Source {
	s := &Source{}
	c.sources = append(c.sources, s)
	return s
}

// RemoveSource unregisters source. A no-op if source does not belong to
// this clock.
func (c *Clock) RemoveSource(source *Source) {
	for i, s := range c.sources {
		if s == source {
			c.sources = append(c.sources[:i], c.sources[i+1:]...)
			return
		}
	}
}

// Tick advances the clock by delta ticks and recomputes Systime and
// Monotime from whatever sources are currently reporting. countSelf
// includes the clock's own prior Systime as one more sample, useful when
// the local node's opinion of the time should count toward the consensus.
func (c *Clock) Tick(delta uint, countSelf bool) {
	c.ticks += delta
	c.Systime += object.Instant(delta)

	var samples []int64
	for _, s := range c.sources {
		if s.latest != 0 && s.lastUpdate+c.obsolescenceInterval > c.ticks {
			samples = append(samples, int64(s.latest)+int64(c.ticks-s.lastUpdate))
		}
	}
	if c.Systime != 0 && countSelf {
		samples = append(samples, int64(c.Systime))
	}

	filtered := samples
	if len(samples) >= 3 {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		// +1 so that exactly 3 samples still degrade to a median rather
		// than leaving all three in (which would just average them).
		trim := (len(samples) + 1) / 4
		filtered = samples[trim : len(samples)-trim]
	}

	if len(filtered) > 0 {
		var sum int64
		for _, v := range filtered {
			sum += v
		}
		c.Systime = object.Instant(sum / int64(len(filtered)))
	}

	naturalMonotime := c.Monotime + object.Instant(delta)
	c.drift += int64(delta) * (int64(naturalMonotime) - int64(c.Systime))

	if abs64(c.drift) < int64(c.tolerance) {
		c.Monotime = naturalMonotime
		return
	}

	// Drift is beyond tolerance: advance monotime at half speed and halve
	// the accumulator, rather than jumping straight to the natural value.
	if delta > 1 {
		c.Monotime += object.Instant(delta / 2)
	} else if delta == 1 && c.ticks&1 == 1 {
		c.Monotime++
	}
	c.drift /= 2

	if c.Monotime > c.Systime {
		return
	}
	if naturalMonotime < c.Systime {
		c.Monotime = object.Instant((int64(naturalMonotime) + int64(c.Systime)) / 2)
		c.drift /= 2
	} else {
		c.Monotime = c.Systime
		c.drift = 0
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
