package recorder

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordSignal(_ *SignalEvent) error          { return nil }
func (n *NoopRecorder) RecordEntry(_ *EntryEvent) error            { return nil }
func (n *NoopRecorder) RecordPositionEvent(_ *PositionEvent) error { return nil }
func (n *NoopRecorder) RecordCycle(_ *CycleEvent) error            { return nil }
func (n *NoopRecorder) RecordAlert(_ *AlertEvent) error            { return nil }
func (n *NoopRecorder) Close() error                               { return nil }
