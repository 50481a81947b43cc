// Package monitor defines the trace/counter callback contract the engine
// reports through (spec.md §6), plus a logrus-backed implementation in
// monitor/logmonitor.
package monitor

// Monitor receives link-layer and application-layer lifecycle events plus
// free-form trace text. Implementations must be safe to call from both the
// foreground call path and the background keep-alive goroutine.
type Monitor interface {
	OnDataLinkLayerSuccess()
	OnDataLinkLayerRetry(err error)
	OnDataLinkLayerFail(err error)

	OnApplicationLayerStart(name string)
	OnApplicationLayerSuccess(name string)
	OnApplicationLayerRetry(name string, err error)
	OnApplicationLayerFail(name string, err error)

	// Write records free-form trace text: ACSE dumps, EPSEM dumps, counter
	// snapshots.
	Write(text string)
}
