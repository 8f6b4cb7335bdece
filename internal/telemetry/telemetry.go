// Package telemetry records per-method request metrics: counts, error
// counts, and bounded latency samples, with optional slow-request
// detection and an optional OpenTelemetry meter bridge. The recorder is
// always on; with no bridge and no callback it is a cheap in-memory
// accumulator the embedder can snapshot.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SlowRequestCallback is invoked (outside the recorder lock) when a
// request exceeds the slow threshold.
type SlowRequestCallback func(method string, latency time.Duration, at time.Time)

// DefaultSlowThreshold flags requests slower than this.
const DefaultSlowThreshold = time.Second

// maxSamples bounds the per-method latency sample buffer.
const maxSamples = 1000

// Recorder accumulates request telemetry.
type Recorder struct {
	mu sync.RWMutex

	requestCounts  map[string]int64
	requestErrors  map[string]int64
	requestLatency map[string][]time.Duration

	slowThreshold time.Duration
	slowCounts    map[string]int64
	slowCallback  SlowRequestCallback

	startTime time.Time

	bridge *otelBridge
}

// NewRecorder creates an empty recorder with the default slow
// threshold.
func NewRecorder() *Recorder {
	return &Recorder{
		requestCounts:  map[string]int64{},
		requestErrors:  map[string]int64{},
		requestLatency: map[string][]time.Duration{},
		slowCounts:     map[string]int64{},
		slowThreshold:  DefaultSlowThreshold,
		startTime:      time.Now(),
	}
}

// SetSlowThreshold adjusts slow-request detection; zero disables it.
func (r *Recorder) SetSlowThreshold(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slowThreshold = d
}

// SetSlowCallback installs the slow-request callback.
func (r *Recorder) SetSlowCallback(cb SlowRequestCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slowCallback = cb
}

// BridgeOTel mirrors subsequent records into OpenTelemetry instruments
// created from meter. Call before issuing requests.
func (r *Recorder) BridgeOTel(meter metric.Meter) error {
	b, err := newOTelBridge(meter)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.bridge = b
	r.mu.Unlock()
	return nil
}

// Record registers one completed request. failed marks server or
// transport errors; encode/decode failures count too, tagged by the
// same method.
func (r *Recorder) Record(method string, latency time.Duration, failed bool) {
	now := time.Now()

	r.mu.Lock()
	r.requestCounts[method]++
	if failed {
		r.requestErrors[method]++
	}
	samples := r.requestLatency[method]
	if len(samples) >= maxSamples {
		samples = samples[1:]
	}
	r.requestLatency[method] = append(samples, latency)

	var slowCB SlowRequestCallback
	if r.slowThreshold > 0 && latency > r.slowThreshold {
		r.slowCounts[method]++
		slowCB = r.slowCallback
	}
	bridge := r.bridge
	r.mu.Unlock()

	if bridge != nil {
		bridge.record(method, latency, failed)
	}
	if slowCB != nil {
		slowCB(method, latency, now)
	}
}

// MethodStats summarizes one method's samples.
type MethodStats struct {
	Count  int64
	Errors int64
	Slow   int64
	P50    time.Duration
	P95    time.Duration
	Max    time.Duration
}

// Snapshot returns per-method statistics.
func (r *Recorder) Snapshot() map[string]MethodStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]MethodStats, len(r.requestCounts))
	for method, count := range r.requestCounts {
		st := MethodStats{
			Count:  count,
			Errors: r.requestErrors[method],
			Slow:   r.slowCounts[method],
		}
		samples := append([]time.Duration(nil), r.requestLatency[method]...)
		if len(samples) > 0 {
			sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
			st.P50 = samples[len(samples)/2]
			st.P95 = samples[len(samples)*95/100]
			st.Max = samples[len(samples)-1]
		}
		out[method] = st
	}
	return out
}

// Uptime reports time since the recorder was created.
func (r *Recorder) Uptime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.startTime)
}

type otelBridge struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

func newOTelBridge(meter metric.Meter) (*otelBridge, error) {
	requests, err := meter.Int64Counter("surgo.client.requests",
		metric.WithDescription("RPC requests issued by the client"))
	if err != nil {
		return nil, err
	}
	errors, err := meter.Int64Counter("surgo.client.errors",
		metric.WithDescription("RPC requests that failed"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("surgo.client.request.duration",
		metric.WithDescription("RPC round-trip latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &otelBridge{requests: requests, errors: errors, duration: duration}, nil
}

func (b *otelBridge) record(method string, latency time.Duration, failed bool) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("rpc.method", method))
	b.requests.Add(ctx, 1, attrs)
	if failed {
		b.errors.Add(ctx, 1, attrs)
	}
	b.duration.Record(ctx, latency.Seconds(), attrs)
}
