package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReplenishCycle runs one full replenishment cycle.
	TaskReplenishCycle = "replenish:cycle"
)

// ReplenishCyclePayload parameterises one cycle run.
type ReplenishCyclePayload struct {
	// TriggeredBy records whether the cycle ran from cron or a manual kick.
	TriggeredBy string `json:"triggered_by"`
}

// NewReplenishCycleTask constructs the replenishment cycle task.
func NewReplenishCycleTask(triggeredBy string) (*asynq.Task, error) {
	data, err := json.Marshal(ReplenishCyclePayload{TriggeredBy: triggeredBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplenishCycle, data), nil
}
