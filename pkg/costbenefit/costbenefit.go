// Package costbenefit computes the monetary outcome of a compression
// decision: cross-region transfer savings versus the compute spent to
// earn them.
package costbenefit

// computeOverhead accounts for the fleet overhead (scheduling, retries)
// on top of raw compression time.
const computeOverhead = 1.025

// Metrics is the outcome of one archive's compression, folded into the
// settings record and emitted as observability events.
type Metrics struct {
	BytesSaved      int64
	ElapsedSeconds  float64
	NormalizedTime  float64
	TransferSavings float64
	ComputeCost     float64
	NetBenefit      float64
}

// BenefitScore is the value folded into level statistics. Negative scores
// are meaningful: compression cost more than it saved.
func (m Metrics) BenefitScore() float64 {
	return m.NetBenefit
}

// Input carries the measured quantities for one archive.
type Input struct {
	OriginalBytes   int64
	CompressedBytes int64
	ElapsedSeconds  float64
	CPUFactor       float64
	RegionCount     int

	TransferCostPerByte  float64
	ComputeCostPerMinute float64
}

// Evaluate computes the cost-benefit metrics for one archive. Pure; no
// side effects.
func Evaluate(in Input) Metrics {
	bytesSaved := in.OriginalBytes - in.CompressedBytes
	transferSavings := float64(bytesSaved) * in.TransferCostPerByte * float64(in.RegionCount)
	normalizedTime := in.ElapsedSeconds * in.CPUFactor
	computeCost := (normalizedTime / 60) * in.ComputeCostPerMinute * computeOverhead

	return Metrics{
		BytesSaved:      bytesSaved,
		ElapsedSeconds:  in.ElapsedSeconds,
		NormalizedTime:  normalizedTime,
		TransferSavings: transferSavings,
		ComputeCost:     computeCost,
		NetBenefit:      transferSavings - computeCost,
	}
}

// Ratio returns the compression ratio original/compressed, or 0 when the
// compressed size is zero.
func Ratio(originalBytes, compressedBytes int64) float64 {
	if compressedBytes <= 0 {
		return 0
	}
	return float64(originalBytes) / float64(compressedBytes)
}
