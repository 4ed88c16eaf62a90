package queue

import (
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskRoundTrip(t *testing.T) {
	job := Job{DocumentID: "doc-1", FileID: "file-1", CategoryHints: []string{"food", "drink"}}

	task, err := NewTask(QueueStructuring, job)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeStructure, task.Type())
	assert.JSONEq(t, `{"documentId":"doc-1","fileId":"file-1","categoryHints":["food","drink"]}`, string(task.Payload()))

	got, err := ParseJob(task)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestNewTaskOmitsEmptyHints(t *testing.T) {
	task, err := NewTask(QueueTextExtraction, Job{DocumentID: "d", FileID: "f"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeExtractText, task.Type())
	assert.JSONEq(t, `{"documentId":"d","fileId":"f"}`, string(task.Payload()))
}

func TestNewTaskRejects(t *testing.T) {
	_, err := NewTask("images", Job{DocumentID: "d", FileID: "f"})
	assert.Error(t, err)

	_, err = NewTask(QueueStructuring, Job{DocumentID: "d"})
	require.ErrorIs(t, err, ErrInvalidJob)
	assert.Contains(t, err.Error(), "fileId")
}

func TestParseJobSkipsRetryOnBadPayload(t *testing.T) {
	_, err := ParseJob(asynq.NewTask(TaskTypeExtractText, []byte("{not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.True(t, errors.Is(err, ErrInvalidJob))

	_, err = ParseJob(asynq.NewTask(TaskTypeExtractText, []byte(`{"fileId":"f"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
