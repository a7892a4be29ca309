package telemetry

import (
	"context"
	"time"
)

// WriteThroughSink wraps a durable Sink and writes every RecordState call
// through to a Cache as well, so the action façade's pre-condition check
// can read current state without round-tripping to Postgres.
type WriteThroughSink struct {
	Sink
	cache Cache
}

func NewWriteThroughSink(sink Sink, cache Cache) *WriteThroughSink {
	return &WriteThroughSink{Sink: sink, cache: cache}
}

func (w *WriteThroughSink) RecordState(deviceID, stateName string, ts time.Time) error {
	if err := w.Sink.RecordState(deviceID, stateName, ts); err != nil {
		return err
	}
	return w.cache.SetState(context.Background(), deviceID, stateName, ts)
}
