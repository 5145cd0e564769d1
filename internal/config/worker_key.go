package config

import "fmt"

type WorkerKeyStruct struct {
	// Grading job lists, popped high → normal → low.
	GradingHighQueue   string
	GradingNormalQueue string
	GradingLowQueue    string
	// ZSET of delayed grading jobs scored by ready-at unix time.
	GradingDelayedSet string

	AutoSaveQueue         string
	SubmissionEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	GradingHighQueue:      "grading:jobs:high",
	GradingNormalQueue:    "grading:jobs:normal",
	GradingLowQueue:       "grading:jobs:low",
	GradingDelayedSet:     "grading:jobs:delayed",
	AutoSaveQueue:         "autosave:pending",
	SubmissionEventsQueue: "submission:events",
}

// GradingWorkingList holds jobs an instance has popped but not yet acked.
func (w *WorkerKeyStruct) GradingWorkingList(instanceID string) string {
	return fmt.Sprintf("grading:jobs:working:%s", instanceID)
}
