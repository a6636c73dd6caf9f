package store

import "qms/scheduler/internal/models"

const (
	ActionCall   = "call"
	ActionServe  = "serve"
	ActionFinish = "finish"
	ActionCancel = "cancel"
)

var transitionMap = map[string][]string{
	ActionCall:   {models.StatusWaiting},
	ActionServe:  {models.StatusWaiting, models.StatusCalled},
	ActionFinish: {models.StatusInProgress},
	ActionCancel: {models.StatusWaiting, models.StatusCalled, models.StatusInProgress},
}

var actionTargets = map[string]string{
	ActionCall:   models.StatusCalled,
	ActionServe:  models.StatusInProgress,
	ActionFinish: models.StatusDone,
	ActionCancel: models.StatusCancelled,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses an action may start from.
func AllowedFrom(action string) []string {
	return transitionMap[action]
}

// TargetStatus returns the status an action moves a ticket into.
func TargetStatus(action string) (string, bool) {
	status, ok := actionTargets[action]
	return status, ok
}

// ActionFor maps a requested target status back to the action that reaches
// it. "waiting" has no action: nothing may move a ticket back into the queue.
func ActionFor(targetStatus string) (string, bool) {
	for action, status := range actionTargets {
		if status == targetStatus {
			return action, true
		}
	}
	return "", false
}
