package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

// Queue names. One consumer process per queue.
const (
	QueueTextExtraction = "text-extraction"
	QueueStructuring    = "structuring"
)

// Task types routed by the consumers' ServeMux.
const (
	TaskTypeExtractText = "receipt:extract-text"
	TaskTypeStructure   = "receipt:structure"
)

var ErrInvalidJob = errors.New("invalid job payload")

// Job is the payload of both stages.
type Job struct {
	DocumentID    string   `json:"documentId"`
	FileID        string   `json:"fileId"`
	CategoryHints []string `json:"categoryHints,omitempty"`
}

func (j Job) Validate() error {
	var missing []string
	if j.DocumentID == "" {
		missing = append(missing, "documentId")
	}
	if j.FileID == "" {
		missing = append(missing, "fileId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidJob, strings.Join(missing, ", "))
	}
	return nil
}

// TaskTypeFor maps a queue to the only task type it carries.
func TaskTypeFor(queueName string) (string, error) {
	switch queueName {
	case QueueTextExtraction:
		return TaskTypeExtractText, nil
	case QueueStructuring:
		return TaskTypeStructure, nil
	default:
		return "", fmt.Errorf("unknown queue %q", queueName)
	}
}

// Marshal validates and encodes a job.
func (j Job) Marshal() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return payload, nil
}

// ParseJob decodes a task payload. Errors wrap asynq.SkipRetry: a bad
// payload will never get better.
func ParseJob(t *asynq.Task) (Job, error) {
	var job Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v: %w", ErrInvalidJob, err, asynq.SkipRetry)
	}
	if err := job.Validate(); err != nil {
		return Job{}, fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return job, nil
}
