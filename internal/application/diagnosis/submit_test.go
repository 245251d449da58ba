package diagnosis

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	types "github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

func TestNewTask(t *testing.T) {
	task := NewTask("malaria", types.TaskClassification, "s3://slides/a.png", "", "sess-9")

	_, err := uuid.Parse(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.TaskID, task.ImageID)
	assert.Equal(t, "sess-9", task.SessionID)
	assert.False(t, task.SubmittedAt.IsZero())

	other := NewTask("malaria", types.TaskClassification, "s3://slides/a.png", "img-7", "")
	assert.NotEqual(t, task.TaskID, other.TaskID)
	assert.Equal(t, "img-7", other.ImageID)
}

func TestSubmitter(t *testing.T) {
	_, err := NewSubmitter(nil, "requests")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	pub := &fakePublisher{}
	s, err := NewSubmitter(pub, "micronet.prediction.requests")
	require.NoError(t, err)

	task := NewTask("malaria", types.TaskSegmentation, "azblob://slides/a.png", "", "")
	require.NoError(t, s.Submit(context.Background(), task))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "micronet.prediction.requests", pub.sent[0].topic)
	assert.Equal(t, task.TaskID, pub.sent[0].key)

	task.ImageRef = ""
	assert.True(t, errors.IsCode(s.Submit(context.Background(), task), errors.ErrCodeTaskInvalid))
	assert.Len(t, pub.sent, 1)
}
