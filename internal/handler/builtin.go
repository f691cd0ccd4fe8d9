package handler

import (
	"context"
)

// Built-in handler references. External callers name these in handlerRef.
const (
	RefSlotExecution = "slotExecution"
	RefPublish       = "publish"
)

const (
	payloadKeySlotRequest = "slotRequest"
	payloadKeySlotConfig  = "slotConfig"
	payloadKeyAction      = "action"

	ActionSlotVisibilityStart = "SLOT_VISIBILITY_START"
)

// Publisher is the slice of the event sink the built-in handlers need.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any) error
}

// NewSlotExecutionHandler emits one slot-visibility event per fire: the raw
// slot request snapshot is republished under "slotConfig" and the action tag
// marks the start of a visibility window.
func NewSlotExecutionHandler(p Publisher) JobHandler {
	return JobHandlerFunc(func(ctx context.Context, exec Execution) error {
		payload := make(map[string]any, len(exec.Payload)+2)
		for k, v := range exec.Payload {
			if k == payloadKeySlotRequest {
				continue
			}
			payload[k] = v
		}
		if raw, ok := exec.Payload[payloadKeySlotRequest]; ok {
			payload[payloadKeySlotConfig] = raw
		}
		payload[payloadKeyAction] = ActionSlotVisibilityStart
		return p.Publish(ctx, exec.Topic, payload)
	})
}

// NewPublishHandler forwards the execution payload to the derived topic
// unchanged. The generic job handler.
func NewPublishHandler(p Publisher) JobHandler {
	return JobHandlerFunc(func(ctx context.Context, exec Execution) error {
		return p.Publish(ctx, exec.Topic, exec.Payload)
	})
}
