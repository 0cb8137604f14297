package codec

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Prober measures the local CPU's compression speed and expresses it as a
// normalization factor relative to a fleet reference: 1.0 means
// reference-speed hardware, >1.0 means slower, <1.0 faster. Pluggable so
// tests and alternative codecs can substitute their own measurement.
type Prober interface {
	Run(ctx context.Context) (float64, error)
}

// Reference throughput of the probe workload on the fleet's reference
// hardware, in operations per second.
const referenceOpsPerSecond = 100.0

// ZstdProbe compresses a fixed pseudorandom payload with the same codec
// used for real work and times it.
type ZstdProbe struct {
	// PayloadSize is the size of the reference payload. Default 4 MiB.
	PayloadSize int

	// Level is the zstd level used for the probe. Default 10.
	Level int

	// MaxDuration bounds the total probe time. Default 10s.
	MaxDuration time.Duration

	// MaxIterations bounds the number of compression runs. Default 20.
	MaxIterations int
}

// NewZstdProbe returns a probe with the default workload.
func NewZstdProbe() *ZstdProbe {
	return &ZstdProbe{
		PayloadSize:   4 * 1024 * 1024,
		Level:         10,
		MaxDuration:   10 * time.Second,
		MaxIterations: 20,
	}
}

// Run executes the benchmark and returns the CPU factor
// (reference ops/sec divided by measured ops/sec). Returns 1.0 when the
// measurement is unusable.
func (p *ZstdProbe) Run(ctx context.Context) (float64, error) {
	payload := referencePayload(p.PayloadSize)

	enc, err := zstd.NewWriter(io.Discard,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(ClampLevel(p.Level))),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return 1.0, err
	}
	defer enc.Close()

	var (
		iterations int
		totalTime  time.Duration
		start      = time.Now()
	)

	for iterations < p.MaxIterations {
		if err := ctx.Err(); err != nil {
			break
		}

		opStart := time.Now()
		enc.EncodeAll(payload, nil)
		totalTime += time.Since(opStart)
		iterations++

		elapsed := time.Since(start)
		if elapsed >= p.MaxDuration {
			break
		}
		// Half the budget with a few samples is a reliable estimate.
		if elapsed >= p.MaxDuration/2 && iterations >= 3 {
			break
		}
	}

	if iterations == 0 || totalTime <= 0 {
		return 1.0, nil
	}

	opsPerSecond := float64(iterations) / totalTime.Seconds()
	return referenceOpsPerSecond / opsPerSecond, nil
}

// referencePayload builds a deterministic pseudorandom payload so every
// probe run compresses identical bytes.
func referencePayload(size int) []byte {
	rng := rand.New(rand.NewSource(42))
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(rng.Intn(256))
	}
	return payload
}

// FixedProbe always reports the same factor. Useful in tests and for
// deployments that pin the factor via configuration.
type FixedProbe struct {
	Factor float64
}

func (p FixedProbe) Run(context.Context) (float64, error) {
	if p.Factor <= 0 {
		return 1.0, nil
	}
	return p.Factor, nil
}
