package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/houseprice/artifact"
)

func openTemp(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndGet(t *testing.T) {
	r := openTemp(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)

	run := Run{
		ID:          "run-1",
		Status:      StatusRunning,
		StartedAt:   started,
		DatasetPath: "data/Housing.csv",
		Seed:        42,
	}
	require.NoError(t, r.Record(ctx, run))

	got, err := r.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
	require.True(t, got.StartedAt.Equal(started))
	require.True(t, got.FinishedAt.IsZero())
	require.Empty(t, got.BundleID)

	run.Status = StatusSucceeded
	run.FinishedAt = started.Add(time.Minute)
	run.Samples = 545
	run.BundleID = "bundle-1"
	run.EpochsRun = 57
	run.BestEpoch = 37
	run.Metrics = artifact.Metrics{TrainRMSE: 1.1e6, TestRMSE: 1.3e6, TrainMAE: 8e5, TestMAE: 9e5, TrainR2: 0.7, TestR2: 0.65}
	require.NoError(t, r.Record(ctx, run))

	got, err = r.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, "bundle-1", got.BundleID)
	require.Equal(t, 545, got.Samples)
	require.Equal(t, int64(42), got.Seed)
	require.Equal(t, 37, got.BestEpoch)
	require.Equal(t, run.Metrics, got.Metrics)
	require.True(t, got.FinishedAt.Equal(run.FinishedAt))
}

func TestRecordFailure(t *testing.T) {
	r := openTemp(t)
	ctx := context.Background()
	run := Run{
		ID:          "run-failed",
		Status:      StatusFailed,
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
		DatasetPath: "missing.csv",
		Error:       "dataset not found",
	}
	require.NoError(t, r.Record(ctx, run))

	got, err := r.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "dataset not found", got.Error)
	require.Equal(t, StatusFailed, got.Status)
}

func TestListNewestFirst(t *testing.T) {
	r := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Record(ctx, Run{
			ID:          id,
			Status:      StatusSucceeded,
			StartedAt:   base.Add(time.Duration(i) * time.Second),
			DatasetPath: "Housing.csv",
		}))
	}

	all, err := r.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := r.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "c", limited[0].ID)
}

func TestRecordValidation(t *testing.T) {
	r := openTemp(t)
	ctx := context.Background()
	require.Error(t, r.Record(ctx, Run{StartedAt: time.Now()}))
	require.Error(t, r.Record(ctx, Run{ID: "x"}))

	_, err := r.Get(ctx, "nope")
	require.Error(t, err)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Record(context.Background(), Run{ID: "persisted", Status: StatusRunning, StartedAt: time.Now(), DatasetPath: "d.csv"}))
	require.NoError(t, r.Close())

	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Get(context.Background(), "persisted")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
}
