package jobs

const TaskWarmCache = "cache:warm"

// QueueCache is the asynq queue warm tasks run on.
const QueueCache = "cache"

type WarmCachePayload struct {
	// Resources to fetch. Empty means every directory resource.
	Resources []string `json:"resources,omitempty"`
	// RequestedBy is the task id handed back to the caller that enqueued it.
	RequestedBy string `json:"requested_by,omitempty"`
}
