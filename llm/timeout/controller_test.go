package timeout

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestDynamicTimeout_FallsBackToStaticBelowMinSamples(t *testing.T) {
	p := NewLatencyProfile()
	for i := 0; i < minSamplesForDynamicTimeout-1; i++ {
		p.Record(500 * time.Millisecond)
	}

	got := DynamicTimeout(p, 20*time.Second, Bounds{Min: 5 * time.Second, Max: 60 * time.Second})
	assert.Equal(t, 20*time.Second, got)
}

func TestDynamicTimeout_UsesMeanPlusTwoStdDevAtFiveSamples(t *testing.T) {
	p := NewLatencyProfile()
	for _, rt := range []time.Duration{1 * time.Second, 1 * time.Second, 1 * time.Second, 1 * time.Second, 1 * time.Second} {
		p.Record(rt)
	}

	got := DynamicTimeout(p, 20*time.Second, Bounds{Min: 1 * time.Millisecond, Max: 60 * time.Second})
	assert.Equal(t, 1*time.Second, got)
}

func TestDynamicTimeout_ClampsToBounds(t *testing.T) {
	p := NewLatencyProfile()
	for i := 0; i < 10; i++ {
		p.Record(1 * time.Millisecond)
	}

	got := DynamicTimeout(p, 20*time.Second, Bounds{Min: 2 * time.Second, Max: 60 * time.Second})
	assert.Equal(t, 2*time.Second, got)
}

func TestLatencyProfile_RingOverwritesOldestSample(t *testing.T) {
	p := NewLatencyProfile()
	for i := 0; i < latencyRingCapacity+10; i++ {
		p.Record(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, latencyRingCapacity, p.SampleCount())
}

func TestRetryDelay_BadGatewayNeverExceedsCap(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := RetryDelay(attempt, ClassBadGateway)
		assert.LessOrEqual(t, d, badGatewayRetryCap)
	}
}

func TestRetryDelay_RateLimitedNeverExceedsCap(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := RetryDelay(attempt, ClassRateLimited)
		assert.LessOrEqual(t, d, rateLimitRetryCap)
	}
}

func TestRetryDelay_IsAlwaysPositive(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		assert.Greater(t, RetryDelay(attempt, ClassDefault), time.Duration(0))
	}
}

func TestProperty_DynamicTimeoutAlwaysWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("dynamic timeout never leaves its configured bounds", prop.ForAll(
		func(samples []int64, minMs, maxMs int64) bool {
			if maxMs <= minMs {
				maxMs = minMs + 1
			}
			bounds := Bounds{Min: time.Duration(minMs) * time.Millisecond, Max: time.Duration(maxMs) * time.Millisecond}

			p := NewLatencyProfile()
			for _, s := range samples {
				p.Record(time.Duration(s) * time.Millisecond)
			}

			got := DynamicTimeout(p, bounds.Min, bounds)
			return got >= bounds.Min && got <= bounds.Max
		},
		gen.SliceOf(gen.Int64Range(1, 5000)),
		gen.Int64Range(1, 1000),
		gen.Int64Range(1, 100000),
	))

	properties.TestingRun(t)
}
