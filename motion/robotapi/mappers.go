package robotapi

import (
	"strings"

	"robonav/motion"
)

// MapOutcome translates a robot move state to a motion outcome. Anything the
// robot does not clearly report as success or cancellation is a failure.
func MapOutcome(state string) motion.Outcome {
	switch strings.ToLower(state) {
	case "succeeded", "success", "finished", "completed":
		return motion.OutcomeSucceeded
	case "cancelled", "canceled", "aborted_by_user":
		return motion.OutcomeCancelled
	default:
		return motion.OutcomeFailed
	}
}
