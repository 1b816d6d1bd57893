package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SweepStarted()                                               {}
func (n *NoopSink) SweepCompleted(d time.Duration, documentsDue int, err error) {}
func (n *NoopSink) TriggerRegistered()                                          {}
func (n *NoopSink) TriggerCancelled()                                           {}
func (n *NoopSink) TriggerFired(source string)                                  {}
func (n *NoopSink) SendAttemptCompleted(statusClass string, d time.Duration)    {}
func (n *NoopSink) WaveCompleted(outcome string)                                {}
func (n *NoopSink) TokenRefreshed()                                             {}
func (n *NoopSink) WavesInFlightIncr()                                          {}
func (n *NoopSink) WavesInFlightDecr()                                          {}
func (n *NoopSink) BufferSizeUpdate(size int)                                   {}
func (n *NoopSink) BufferCapacitySet(capacity int)                              {}
func (n *NoopSink) EmitError()                                                  {}
