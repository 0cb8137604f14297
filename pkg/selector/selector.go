// Package selector picks a compression level for a batch, balancing
// exploitation of the best-known level against bounded exploration of its
// neighbors. The decision is a pure function of the settings record, the
// local CPU factor, and a caller-supplied random source.
package selector

import (
	"math"
	"math/rand"

	"github.com/s3xrc/s3xrc/pkg/codec"
	"github.com/s3xrc/s3xrc/pkg/settings"
)

// DefaultLevel is used for keys with no usable statistics.
const DefaultLevel = 12

const (
	// minTrials is the sample floor below which a level's statistics are
	// ignored when choosing the best level.
	minTrials = 10

	baseExplorationRate = 0.25
	minExplorationRate  = 0.125
	decayPerThousand    = 0.02
	maxDecay            = 0.5

	// Exploration budget split across offset magnitudes 1, 2, 3.
	tierOneShare = 0.60
	tierTwoShare = 0.25
)

// CPU factor thresholds relative to the fleet average for this key.
const (
	fasterThreshold = 0.9
	slowerThreshold = 1.1
)

// Decision is the outcome of one level selection.
type Decision struct {
	Level    int
	Explored bool

	// Fresh marks a key with no prior settings record; the caller should
	// create one before folding in the outcome.
	Fresh bool
}

// ExplorationRate returns the probability of exploring at the given
// record version. The rate decays as the record accumulates history but
// never below the floor.
func ExplorationRate(version int64) float64 {
	decay := math.Min(maxDecay, decayPerThousand*math.Floor(float64(version)/1000))
	return math.Max(minExplorationRate, baseExplorationRate*(1-decay))
}

// BestLevel returns the level with the highest mean benefit per object
// among levels with enough trials, or the default level when every level
// is under-sampled.
func BestLevel(rec *settings.Record) int {
	return bestLevel(rec, DefaultLevel)
}

func bestLevel(rec *settings.Record, def int) int {
	best := def
	bestAvg := math.Inf(-1)
	found := false
	for level, stats := range rec.LevelStats {
		if stats.Trials < minTrials {
			continue
		}
		avg := stats.AverageBenefit()
		if !found || avg > bestAvg || (avg == bestAvg && level < best) {
			best = level
			bestAvg = avg
			found = true
		}
	}
	if !found {
		return def
	}
	return best
}

// Policy carries the tunables of the selection function. The zero value
// uses the standard default level.
type Policy struct {
	// DefaultLevel is emitted for keys with no usable statistics.
	DefaultLevel int
}

// Select decides the compression level for one batch. rec may be nil when
// no settings exist for the key. Pure apart from draws on rng.
func (p Policy) Select(rec *settings.Record, cpuFactor float64, rng *rand.Rand) Decision {
	def := p.DefaultLevel
	if def == 0 {
		def = DefaultLevel
	}
	if rec == nil {
		return Decision{Level: codec.ClampLevel(def), Fresh: true}
	}

	best := bestLevel(rec, def)

	if rng.Float64() < ExplorationRate(rec.Version) {
		offset := explorationOffset(rng)
		return Decision{
			Level:    codec.ClampLevel(best + offset),
			Explored: true,
		}
	}

	return Decision{Level: codec.ClampLevel(best + cpuAdjustment(rec, cpuFactor))}
}

// SelectLevel runs the zero policy: default level 12.
func SelectLevel(rec *settings.Record, cpuFactor float64, rng *rand.Rand) Decision {
	return Policy{}.Select(rec, cpuFactor, rng)
}

// cpuAdjustment nudges the exploited level by how this host's CPU factor
// compares to the fleet average for the key: faster hosts can afford a
// heavier level, slower hosts back off.
func cpuAdjustment(rec *settings.Record, cpuFactor float64) int {
	ratio := cpuFactor / rec.AverageCPUFactor()
	switch {
	case ratio < fasterThreshold:
		return 1
	case ratio > slowerThreshold:
		return -1
	default:
		return 0
	}
}

// explorationOffset draws a signed offset: magnitude 1 with 60% of the
// exploration budget, 2 with 25%, 3 with 15%, sign uniform.
func explorationOffset(rng *rand.Rand) int {
	var magnitude int
	switch draw := rng.Float64(); {
	case draw < tierOneShare:
		magnitude = 1
	case draw < tierOneShare+tierTwoShare:
		magnitude = 2
	default:
		magnitude = 3
	}
	if rng.Intn(2) == 0 {
		return -magnitude
	}
	return magnitude
}
