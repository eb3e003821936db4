package pipeline

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Stats summarises one dataset run
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	Empty     int

	// Latency is the summed wall time of all inference calls
	Latency time.Duration
}

// Add records one processed record
func (s *Stats) Add(answer string, err error, latency time.Duration) {
	s.Total++
	s.Latency += latency
	switch {
	case err != nil:
		s.Failed++
	case answer == "":
		s.Empty++
	default:
		s.Succeeded++
	}
}

// SuccessRate is the share of records that produced a non-empty answer, in percent
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) * 100 / float64(s.Total)
}

// AverageLatency is the mean inference time per record
func (s Stats) AverageLatency() time.Duration {
	if s.Total == 0 {
		return 0
	}
	return s.Latency / time.Duration(s.Total)
}

func (s Stats) String() string {
	return fmt.Sprintf("%d total, %d ok, %d failed, %d empty (%s%%), avg %s",
		s.Total, s.Succeeded, s.Failed, s.Empty,
		humanize.FtoaWithDigits(s.SuccessRate(), 1), s.AverageLatency().Round(time.Millisecond))
}

// MarshalLogObject implements zapcore.ObjectMarshaler
func (s Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("total", s.Total)
	enc.AddInt("succeeded", s.Succeeded)
	enc.AddInt("failed", s.Failed)
	enc.AddInt("empty", s.Empty)
	enc.AddFloat64("success_rate", s.SuccessRate())
	enc.AddDuration("avg_latency", s.AverageLatency())
	return nil
}

var _ zapcore.ObjectMarshaler = Stats{}

func statsField(s Stats) zap.Field {
	return zap.Object("stats", s)
}
