package selector

import (
	"math"
	"math/rand"
	"testing"

	"github.com/s3xrc/s3xrc/pkg/settings"
)

func recordWithBest(best int) *settings.Record {
	rec := settings.NewRecord("k")
	rec.LevelStats[best] = settings.LevelStats{SumBenefit: 100, Trials: 50, Objects: 50}
	rec.LevelStats[best-2] = settings.LevelStats{SumBenefit: 10, Trials: 50, Objects: 50}
	rec.SumCPUFactor = 50
	rec.TotalProcessedFiles = 50
	return rec
}

func TestSelectLevelNoSettings(t *testing.T) {
	d := SelectLevel(nil, 1.0, rand.New(rand.NewSource(1)))
	if d.Level != DefaultLevel || !d.Fresh || d.Explored {
		t.Errorf("nil settings decision = %+v, want default level fresh observation", d)
	}
}

func TestSelectLevelAlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	records := []*settings.Record{
		recordWithBest(12),
		recordWithBest(2),
		recordWithBest(21),
		settings.NewRecord("empty"),
	}
	for _, rec := range records {
		for i := 0; i < 5000; i++ {
			d := SelectLevel(rec, 0.5+rng.Float64(), rng)
			if d.Level < 1 || d.Level > 22 {
				t.Fatalf("selected level %d out of range for record %+v", d.Level, rec)
			}
		}
	}
}

func TestPolicyDefaultLevel(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	d := Policy{DefaultLevel: 6}.Select(nil, 1.0, rng)
	if d.Level != 6 || !d.Fresh {
		t.Errorf("policy default decision = %+v, want level 6 fresh", d)
	}

	// Under-sampled record falls back to the policy default too.
	rec := settings.NewRecord("k")
	rec.LevelStats[20] = settings.LevelStats{SumBenefit: 10, Trials: 1, Objects: 1}
	for i := 0; i < 200; i++ {
		d := Policy{DefaultLevel: 6}.Select(rec, 1.0, rng)
		if !d.Explored && d.Level != 6 {
			t.Fatalf("exploitation level = %d, want policy default 6", d.Level)
		}
	}
}

func TestExplorationRate(t *testing.T) {
	cases := []struct {
		version int64
		want    float64
	}{
		{0, 0.25},
		{999, 0.25},
		{1000, 0.25 * (1 - 0.02)},
		{5000, 0.25 * (1 - 0.10)},
		{25000, 0.125},
		{1_000_000, 0.125},
	}
	for _, c := range cases {
		if got := ExplorationRate(c.version); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("ExplorationRate(%d) = %v, want %v", c.version, got, c.want)
		}
	}

	// Non-increasing in version.
	prev := math.Inf(1)
	for v := int64(0); v <= 50_000; v += 500 {
		rate := ExplorationRate(v)
		if rate > prev {
			t.Fatalf("rate increased at version %d: %v > %v", v, rate, prev)
		}
		prev = rate
	}
}

func TestBestLevelIgnoresUnderSampled(t *testing.T) {
	rec := settings.NewRecord("k")
	rec.LevelStats[20] = settings.LevelStats{SumBenefit: 1000, Trials: 9, Objects: 9}
	rec.LevelStats[8] = settings.LevelStats{SumBenefit: 5, Trials: 10, Objects: 10}
	if got := BestLevel(rec); got != 8 {
		t.Errorf("BestLevel = %d, want 8 (level 20 under-sampled)", got)
	}

	allUnder := settings.NewRecord("k")
	allUnder.LevelStats[20] = settings.LevelStats{SumBenefit: 1000, Trials: 9, Objects: 9}
	if got := BestLevel(allUnder); got != DefaultLevel {
		t.Errorf("BestLevel all under-sampled = %d, want default %d", got, DefaultLevel)
	}
}

func TestBestLevelMaximizesMeanBenefit(t *testing.T) {
	rec := settings.NewRecord("k")
	rec.LevelStats[10] = settings.LevelStats{SumBenefit: 100, Trials: 20, Objects: 100} // mean 1.0
	rec.LevelStats[14] = settings.LevelStats{SumBenefit: 60, Trials: 20, Objects: 20}   // mean 3.0
	rec.LevelStats[18] = settings.LevelStats{SumBenefit: -5, Trials: 20, Objects: 20}
	if got := BestLevel(rec); got != 14 {
		t.Errorf("BestLevel = %d, want 14", got)
	}
}

func TestCPUAdjustment(t *testing.T) {
	rec := recordWithBest(12) // average CPU factor 1.0
	rng := rand.New(rand.NewSource(3))

	counts := map[string]map[int]int{"fast": {}, "slow": {}, "avg": {}}
	for i := 0; i < 20000; i++ {
		counts["fast"][SelectLevel(rec, 0.5, rng).Level]++
		counts["slow"][SelectLevel(rec, 1.5, rng).Level]++
		counts["avg"][SelectLevel(rec, 1.0, rng).Level]++
	}

	// Exploitation dominates, so the modal level shows the adjustment.
	if mode(counts["fast"]) != 13 {
		t.Errorf("fast host modal level = %d, want 13", mode(counts["fast"]))
	}
	if mode(counts["slow"]) != 11 {
		t.Errorf("slow host modal level = %d, want 11", mode(counts["slow"]))
	}
	if mode(counts["avg"]) != 12 {
		t.Errorf("average host modal level = %d, want 12", mode(counts["avg"]))
	}
}

func mode(counts map[int]int) int {
	best, bestN := 0, -1
	for level, n := range counts {
		if n > bestN {
			best, bestN = level, n
		}
	}
	return best
}

func TestExplorationTierSplit(t *testing.T) {
	rec := recordWithBest(12)
	rng := rand.New(rand.NewSource(11))

	const draws = 200_000
	explored := 0
	magnitudes := map[int]int{}
	for i := 0; i < draws; i++ {
		d := SelectLevel(rec, 1.0, rng)
		if !d.Explored {
			continue
		}
		explored++
		diff := d.Level - 12
		if diff < 0 {
			diff = -diff
		}
		magnitudes[diff]++
	}

	rate := float64(explored) / draws
	if math.Abs(rate-0.25) > 0.01 {
		t.Errorf("observed exploration rate %v, want ~0.25", rate)
	}

	total := float64(explored)
	wantShares := map[int]float64{1: 0.60, 2: 0.25, 3: 0.15}
	sum := 0
	for magnitude, want := range wantShares {
		got := float64(magnitudes[magnitude]) / total
		sum += magnitudes[magnitude]
		if math.Abs(got-want) > 0.02 {
			t.Errorf("magnitude %d share = %v, want ~%v", magnitude, got, want)
		}
	}
	if sum != explored {
		t.Errorf("tier counts sum to %d, want %d (tiers must partition exploration)", sum, explored)
	}
}

func TestExplorationOffsetsFromBestLevel(t *testing.T) {
	rec := recordWithBest(18)
	rng := rand.New(rand.NewSource(13))

	for i := 0; i < 50_000; i++ {
		d := SelectLevel(rec, 1.0, rng)
		if !d.Explored {
			continue
		}
		diff := d.Level - 18
		if diff < -3 || diff > 3 || diff == 0 {
			t.Fatalf("exploration level %d is not within ±3 of best 18", d.Level)
		}
	}
}
