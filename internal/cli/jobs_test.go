package cli

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocozen/nocozenbase/internal/capture"
	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/jobs"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// failedJob stores one DataSync job that failed and returns its id.
func failedJob(t *testing.T, dbPath string) string {
	t.Helper()
	ctx := context.Background()
	q, err := jobs.Open(dbPath, nil)
	require.NoError(t, err)
	defer q.Close()

	payload, err := capture.EncodePayload(capture.Payload{
		CollName: "_mc_orders",
		Record: rule.ChangeRecord{
			ID:               "rec-0001",
			EntityID:         "o-1",
			SourceCollection: "_mc_orders",
			TriggerKind:      rule.TriggerAdd,
			NewDoc:           doc.Document{"_id": "o-1"},
			OccurredAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	})
	require.NoError(t, err)

	h, err := q.EnqueueNow(ctx, jobs.DataSyncJob, payload)
	require.NoError(t, err)
	q.OnJob(jobs.DataSyncJob, func(context.Context, []byte) error {
		return errors.New("rule 1: store unreachable")
	})
	n, err := q.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return h.ID
}

func TestJobs_ListFailed(t *testing.T) {
	id := failedJob(t, isolateConfig(t))

	out, err := execute(t, nil, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "Jobs: 0 pending, 0 running, 0 done, 1 failed")
	assert.Contains(t, out, id+"  ")
	assert.Contains(t, out, "_mc_orders/rec-0001  add  attempts=1")
	assert.Contains(t, out, "rule 1: store unreachable")
}

func TestJobs_RetryJSON(t *testing.T) {
	id := failedJob(t, isolateConfig(t))

	out, err := execute(t, nil, "jobs", "--retry", id, "--state", "pending", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   JobsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Stats.Pending)
	assert.Equal(t, 0, resp.Data.Stats.Failed)
	require.Len(t, resp.Data.Jobs, 1)
	assert.Equal(t, id, resp.Data.Jobs[0].ID)
	assert.Equal(t, "rec-0001", resp.Data.Jobs[0].RecordID)
	assert.Empty(t, resp.Data.Jobs[0].LastError)
}

func TestJobs_Errors(t *testing.T) {
	isolateConfig(t)

	_, err := execute(t, nil, "jobs", "--state", "stuck")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, nil, "jobs", "--retry", "no-such-job")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	out, err := execute(t, nil, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "No failed jobs.")
}
