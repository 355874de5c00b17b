// ABOUTME: OpenTelemetry instruments for the audio pipeline
// ABOUTME: One Metrics value is shared by the share and listen sides of a process
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Sendspin/hearme"

// Metrics holds the pipeline instruments. Counters are cumulative per
// process; attribute cardinality is kept to a handful of fixed values.
type Metrics struct {
	// Share side.
	FramesEncoded     metric.Int64Counter
	EncodeDuration    metric.Float64Histogram
	EncodeOverruns    metric.Int64Counter
	PacketsBroadcast  metric.Int64Counter
	QueueDrops        metric.Int64Counter
	ListenersActive   metric.Int64UpDownCounter
	ListenersEvicted  metric.Int64Counter
	HandshakeFailures metric.Int64Counter

	// Listen side.
	ConnectAttempts metric.Int64Counter
	ProtocolErrors  metric.Int64Counter
	DecodeErrors    metric.Int64Counter
	FramesPlayed    metric.Int64Counter
	FramesConcealed metric.Int64Counter
	Underruns       metric.Int64Counter
	Overruns        metric.Int64Counter
	LatePackets     metric.Int64Counter
	BufferDepth     metric.Int64Histogram
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.FramesEncoded, err = m.Int64Counter("hearme.frames.encoded",
		metric.WithDescription("Frames pulled from the source and encoded."),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("hearme.encode.duration",
		metric.WithDescription("Time spent encoding one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05),
	); err != nil {
		return nil, err
	}
	if met.EncodeOverruns, err = m.Int64Counter("hearme.encode.overruns",
		metric.WithDescription("Encodes that took longer than one frame period."),
	); err != nil {
		return nil, err
	}
	if met.PacketsBroadcast, err = m.Int64Counter("hearme.packets.broadcast",
		metric.WithDescription("Packets handed to the fan-out."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("hearme.queue.drops",
		metric.WithDescription("Packets dropped from full listener queues, by policy."),
	); err != nil {
		return nil, err
	}
	if met.ListenersActive, err = m.Int64UpDownCounter("hearme.listeners.active",
		metric.WithDescription("Listeners currently attached to a share."),
	); err != nil {
		return nil, err
	}
	if met.ListenersEvicted, err = m.Int64Counter("hearme.listeners.evicted",
		metric.WithDescription("Listeners removed for sustained queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.HandshakeFailures, err = m.Int64Counter("hearme.handshake.failures",
		metric.WithDescription("Incoming connections refused during admission, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ConnectAttempts, err = m.Int64Counter("hearme.connect.attempts",
		metric.WithDescription("Dial attempts made by listen sessions, by result."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("hearme.protocol.errors",
		metric.WithDescription("Connections closed for malformed framing."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("hearme.decode.errors",
		metric.WithDescription("Payloads that failed to decode and were treated as lost."),
	); err != nil {
		return nil, err
	}
	if met.FramesPlayed, err = m.Int64Counter("hearme.frames.played",
		metric.WithDescription("Received frames submitted to the sink."),
	); err != nil {
		return nil, err
	}
	if met.FramesConcealed, err = m.Int64Counter("hearme.frames.concealed",
		metric.WithDescription("Synthesized frames submitted in place of missing ones."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("hearme.playback.underruns",
		metric.WithDescription("Playout ticks that found the buffer empty."),
	); err != nil {
		return nil, err
	}
	if met.Overruns, err = m.Int64Counter("hearme.playback.overruns",
		metric.WithDescription("Frames dropped because the buffer exceeded its depth."),
	); err != nil {
		return nil, err
	}
	if met.LatePackets, err = m.Int64Counter("hearme.packets.late",
		metric.WithDescription("Frames discarded for arriving after their slot was played."),
	); err != nil {
		return nil, err
	}
	if met.BufferDepth, err = m.Int64Histogram("hearme.buffer.depth",
		metric.WithDescription("Playback buffer depth in frames, sampled per tick."),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 4, 5, 8, 10, 15, 20),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which the global provider does not do.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDrop counts one queue drop under the given policy name.
func (m *Metrics) RecordDrop(ctx context.Context, policy string) {
	m.QueueDrops.Add(ctx, 1, metric.WithAttributes(Attr("policy", policy)))
}

// RecordConnectAttempt counts one dial attempt with its result.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, result string) {
	m.ConnectAttempts.Add(ctx, 1, metric.WithAttributes(Attr("result", result)))
}

// RecordHandshakeFailure counts one refused connection.
func (m *Metrics) RecordHandshakeFailure(ctx context.Context, reason string) {
	m.HandshakeFailures.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}
