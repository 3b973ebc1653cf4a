package simulation

import (
	"simcontroller/pkg/cloudevent"
	"slices"

	"github.com/google/uuid"
)

// Event types for simulation lifecycle callbacks
const (
	EventTypeCreated      = "simulation.job.created"
	EventTypeRunning      = "simulation.job.running"
	EventTypeStopped      = "simulation.job.stopped"
	EventTypeFailed       = "simulation.job.failed"
	EventTypeCompleted    = "simulation.job.completed"
	EventTypeOutputReady  = "simulation.job.output.ready"
	EventTypeOutputFailed = "simulation.job.output.failed"
)

const eventSource = "simcontroller/registry"

var eventTypes = []string{
	EventTypeCreated,
	EventTypeRunning,
	EventTypeStopped,
	EventTypeFailed,
	EventTypeCompleted,
	EventTypeOutputReady,
	EventTypeOutputFailed,
}

func isEventType(t string) bool {
	return slices.Contains(eventTypes, t)
}

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// buildEvent creates the CloudEvent for a lifecycle transition of info.
func buildEvent(eventType string, info Info) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId":       info.ID,
		"state":       info.State.String(),
		"outputState": info.OutputState.String(),
	}
	if info.ExitCode != nil {
		data["exitCode"] = *info.ExitCode
	}
	if info.Error != "" {
		data["error"] = info.Error
	}
	return cloudevent.New(eventType, eventSource, info.ID, uuid.NewString(), data)
}
