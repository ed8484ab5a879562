package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func TestJobCompletionListener_HandlesEveryTerminalStatus(t *testing.T) {
	instance, err := model.NewJobInstance("csvToKafkaJob", model.NewJobParametersBuilder().ToJobParameters())
	require.NoError(t, err)

	l := NewJobCompletionListener()
	l.now = func() time.Time { return time.Unix(0, 0) }

	completed := model.NewJobExecution(instance)
	require.NoError(t, completed.MarkAsStarted())
	require.NoError(t, completed.MarkAsCompleted())

	failed := model.NewJobExecution(instance)
	require.NoError(t, failed.MarkAsStarted())
	require.NoError(t, failed.MarkAsFailed(errors.New("broker unreachable")))

	running := model.NewJobExecution(instance)

	assert.NotPanics(t, func() {
		for _, je := range []*model.JobExecution{completed, failed, running} {
			l.BeforeJob(context.Background(), je)
			l.AfterJob(context.Background(), je)
		}
	})
	assert.NotNil(t, completed.EndTime)
}
