package driven

import "context"

// TrainingMessage is one turn of a chat-format training example.
type TrainingMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TrainingExample is one example in the training service's format.
type TrainingExample struct {
	Messages []TrainingMessage `json:"messages"`
}

// JobState is the lifecycle state of a training job as reported by the
// training service.
type JobState string

// Training job states.
const (
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// JobStatus is a poll result for one training job.
type JobStatus struct {
	// State is the job's lifecycle state.
	State JobState

	// ArtifactRef names the produced model when State is succeeded.
	ArtifactRef string

	// Accuracy is the trained model's evaluation-set accuracy when the
	// service reports one with the finished job; negative when unknown.
	Accuracy float64

	// Error is the failure detail when State is failed.
	Error string
}

// TrainingService submits and polls asynchronous fine-tuning jobs.
// SubmitJob blocks only for submission acknowledgment; the job itself
// runs outside the process and is polled on later scheduled runs.
type TrainingService interface {
	// SubmitJob uploads the examples and starts a fine-tuning job,
	// returning the service's job handle.
	SubmitJob(ctx context.Context, examples []TrainingExample) (handle string, err error)

	// PollJob reports the current status of a previously submitted job.
	// Polling is idempotent.
	PollJob(ctx context.Context, handle string) (JobStatus, error)

	// Close releases resources.
	Close() error
}
