package agent

import (
	"sync/atomic"
	"time"

	"github.com/drover-ai/drover/pkg/models"
)

// EventEmitter generates and dispatches AgentEvents with monotonic
// sequencing. It bridges the runtime to the per-run activity callback.
type EventEmitter struct {
	runID    string
	sequence uint64 // atomic counter for monotonic sequencing

	turnIndex int

	onActivity ActivityFunc
}

// NewEventEmitter creates an event emitter for one run. onActivity may be
// nil, in which case events are generated but not dispatched.
func NewEventEmitter(runID string, onActivity ActivityFunc) *EventEmitter {
	return &EventEmitter{
		runID:      runID,
		onActivity: onActivity,
	}
}

// SetTurn updates the current turn index stamped on subsequent events.
func (e *EventEmitter) SetTurn(turnIndex int) {
	e.turnIndex = turnIndex
}

// nextSeq returns the next sequence number (atomic, monotonic).
func (e *EventEmitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

// base creates the base event with common fields populated.
func (e *EventEmitter) base(eventType models.AgentEventType) *models.AgentEvent {
	return &models.AgentEvent{
		Version:   1,
		Type:      eventType,
		Time:      time.Now(),
		Sequence:  e.nextSeq(),
		RunID:     e.runID,
		TurnIndex: e.turnIndex,
	}
}

func (e *EventEmitter) emit(event *models.AgentEvent) {
	if e.onActivity != nil {
		e.onActivity(event)
	}
}

// RunStarted emits a run.started event.
func (e *EventEmitter) RunStarted() {
	e.emit(e.base(models.AgentEventRunStarted))
}

// RunFinished emits a run.finished event.
func (e *EventEmitter) RunFinished() {
	e.emit(e.base(models.AgentEventRunFinished))
}

// TurnStarted emits a turn.started event.
func (e *EventEmitter) TurnStarted() {
	e.emit(e.base(models.AgentEventTurnStarted))
}

// TurnFinished emits a turn.finished event.
func (e *EventEmitter) TurnFinished() {
	e.emit(e.base(models.AgentEventTurnFinished))
}

// ContentChunk emits a content.chunk event for streamed answer text.
func (e *EventEmitter) ContentChunk(delta string) {
	event := e.base(models.AgentEventContentChunk)
	event.Content = &models.ContentEventPayload{Delta: delta}
	e.emit(event)
}

// Thinking emits a thinking event for streamed reasoning text.
func (e *EventEmitter) Thinking(delta string) {
	event := e.base(models.AgentEventThinking)
	event.Content = &models.ContentEventPayload{Delta: delta, Thinking: true}
	e.emit(event)
}

// ToolStarted emits a tool.started event.
func (e *EventEmitter) ToolStarted(callID, name string, argsJSON []byte) {
	event := e.base(models.AgentEventToolStarted)
	event.Tool = &models.ToolEventPayload{
		CallID:   callID,
		Name:     name,
		ArgsJSON: argsJSON,
	}
	e.emit(event)
}

// ToolFinished emits a tool.finished event.
func (e *EventEmitter) ToolFinished(callID, name string, success bool, resultPreview string, elapsed time.Duration) {
	event := e.base(models.AgentEventToolFinished)
	event.Tool = &models.ToolEventPayload{
		CallID:        callID,
		Name:          name,
		Success:       success,
		ResultPreview: resultPreview,
		Elapsed:       elapsed,
	}
	e.emit(event)
}

// LoopWarning emits a loop.warning event.
func (e *EventEmitter) LoopWarning(toolName, fingerprint string, count int, suggestion string) {
	event := e.base(models.AgentEventLoopWarning)
	event.Loop = &models.LoopEventPayload{
		ToolName:    toolName,
		Fingerprint: fingerprint,
		Count:       count,
		Suggestion:  suggestion,
	}
	e.emit(event)
}

// LoopDetected emits a loop.detected event.
func (e *EventEmitter) LoopDetected(toolName, fingerprint string, count int, suggestion string) {
	event := e.base(models.AgentEventLoopDetected)
	event.Loop = &models.LoopEventPayload{
		ToolName:    toolName,
		Fingerprint: fingerprint,
		Count:       count,
		Suggestion:  suggestion,
	}
	e.emit(event)
}

// Compressed emits a context.compressed event.
func (e *EventEmitter) Compressed() {
	e.emit(e.base(models.AgentEventCompressed))
}

// RouteChanged emits a route.changed event. The payload carries the kind
// of routing decision (success, retry, fallback, failure, circuit_open).
func (e *EventEmitter) RouteChanged(route *models.RouteEventPayload) {
	event := e.base(models.AgentEventRouteChanged)
	event.Route = route
	e.emit(event)
}

// Error emits an error event.
func (e *EventEmitter) Error(err error, retriable bool) {
	event := e.base(models.AgentEventError)
	event.Error = &models.ErrorEventPayload{
		Message:   err.Error(),
		Retriable: retriable,
		Err:       err,
	}
	e.emit(event)
}
