package cache

// Recorder receives cache events for external metrics. The observability
// Collector implements it; nil recorders are replaced by a no-op.
type Recorder interface {
	RecordOperation(dataType, operation string)
	RecordRemoteFailure(operation string)
	RecordLocalUsage(usage MemoryUsage)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string) {}
func (nopRecorder) RecordRemoteFailure(string)     {}
func (nopRecorder) RecordLocalUsage(MemoryUsage)   {}
