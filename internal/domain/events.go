package domain

// Event names published on the signal bus and broadcast to websocket clients.
const (
	EventOrderCommitted    = "order_committed"
	EventOrderRevealed     = "order_revealed"
	EventPhaseAdvanced     = "phase_advanced"
	EventBatchSettled      = "batch_settled"
	EventCollateralSlashed = "collateral_slashed"
)

// Event is one auction lifecycle notification. The engine emits events
// synchronously through an EventSink; the service layer fans them out.
type Event struct {
	Name       string
	BatchID    uint64
	CommitID   uint64 // zero for batch-level events
	Committer  string
	Phase      Phase
	Detail     map[string]any
}

// EventSink receives engine events. Implementations must not block the
// engine; slow delivery belongs on the far side of a channel or bus.
type EventSink interface {
	Emit(evt Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(evt Event)

// Emit calls f(evt).
func (f EventSinkFunc) Emit(evt Event) { f(evt) }
