package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotsched/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesEmbeddedSchema(t *testing.T) {
	s := openTestStore(t)

	// The schema's comment lines contain semicolons; only the DDL
	// statements may reach the database, and re-running must be a no-op.
	require.NoError(t, s.migrate(context.Background()))

	for _, tbl := range []string{"jobs", "triggers", "job_scheduler"} {
		var n int
		require.NoError(t, s.DB().Get(&n, "SELECT COUNT(*) FROM "+tbl))
		assert.Zero(t, n)
	}
}

func TestUpsertAndGetJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := JobRecord{
		Name:       "slot-P1-WOF",
		Group:      "slots-WOF",
		HandlerRef: "slotExecution",
		Payload:    map[string]any{"productCode": "P1", "count": float64(3)},
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.UpsertJob(ctx, rec))

	exists, err := s.JobExists(ctx, rec.Name, rec.Group)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.GetJob(ctx, rec.Name, rec.Group)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.HandlerRef, got.HandlerRef)
	assert.Equal(t, "P1", got.Payload["productCode"])

	// Upsert with the same identity overwrites, no duplicate row.
	rec.HandlerRef = "publish"
	require.NoError(t, s.UpsertJob(ctx, rec))
	got, err = s.GetJob(ctx, rec.Name, rec.Group)
	require.NoError(t, err)
	assert.Equal(t, "publish", got.HandlerRef)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestGetJobMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetJob(context.Background(), "nope", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteJobRemovesTriggers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := JobRecord{Name: "j1", Group: "g1", HandlerRef: "publish", CreatedAt: time.Now()}
	require.NoError(t, s.UpsertJob(ctx, job))
	for i, offset := range []time.Duration{time.Hour, 2 * time.Hour} {
		require.NoError(t, s.InsertTrigger(ctx, TriggerRecord{
			Name:      job.Name + "-trigger-" + string(rune('0'+i)),
			Group:     job.Group + "-triggers",
			JobName:   job.Name,
			JobGroup:  job.Group,
			FireAt:    time.Now().Add(offset),
			CreatedAt: time.Now(),
		}))
	}

	found, err := s.DeleteJob(ctx, job.Name, job.Group)
	require.NoError(t, err)
	assert.True(t, found)

	trs, err := s.TriggersForJob(ctx, job.Name, job.Group)
	require.NoError(t, err)
	assert.Empty(t, trs)
}

func TestDeleteJobUnknownIdentity(t *testing.T) {
	s := openTestStore(t)
	found, err := s.DeleteJob(context.Background(), "ghost", "ghosts")
	require.NoError(t, err)
	assert.False(t, found)

	jobs, err := s.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestClaimTriggerFiresAtMostOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertJob(ctx, JobRecord{Name: "j1", Group: "g1", CreatedAt: time.Now()}))
	require.NoError(t, s.InsertTrigger(ctx, TriggerRecord{
		Name: "j1-trigger-0", Group: "g1-triggers",
		JobName: "j1", JobGroup: "g1",
		FireAt: time.Now().Add(-time.Minute), CreatedAt: time.Now(),
	}))

	claimed, err := s.ClaimTrigger(ctx, "j1-trigger-0", "g1-triggers")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimTrigger(ctx, "j1-trigger-0", "g1-triggers")
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")
}

func TestDueTriggersOrderAndCutoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertJob(ctx, JobRecord{Name: "j1", Group: "g1", CreatedAt: now}))
	for name, fireAt := range map[string]time.Time{
		"j1-trigger-0": now.Add(-2 * time.Hour),
		"j1-trigger-1": now.Add(-time.Hour),
		"j1-trigger-2": now.Add(time.Hour), // not yet due
	} {
		require.NoError(t, s.InsertTrigger(ctx, TriggerRecord{
			Name: name, Group: "g1-triggers",
			JobName: "j1", JobGroup: "g1",
			FireAt: fireAt, CreatedAt: now,
		}))
	}

	due, err := s.DueTriggers(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "j1-trigger-0", due[0].Name)
	assert.Equal(t, "j1-trigger-1", due[1].Name)

	next, ok, err := s.NextFireAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now.Add(-2*time.Hour), next)
}

func TestPauseResumeJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertJob(ctx, JobRecord{Name: "j1", Group: "g1", CreatedAt: now}))
	require.NoError(t, s.InsertTrigger(ctx, TriggerRecord{
		Name: "j1-trigger-0", Group: "g1-triggers",
		JobName: "j1", JobGroup: "g1",
		FireAt: now.Add(-time.Minute), CreatedAt: now,
	}))

	require.NoError(t, s.PauseJob(ctx, "j1", "g1"))
	due, err := s.DueTriggers(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "paused triggers must not be due")

	// Resuming a trigger whose instant already passed makes it due at
	// once: the misfire policy is fire-immediately, never skip.
	require.NoError(t, s.ResumeJob(ctx, "j1", "g1"))
	due, err = s.DueTriggers(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestLegacyJobDefinitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO job_scheduler (id, job_name, job_group, handler_ref, cron_expression, invoke_param, created_at, updated_at)
		 VALUES ('id-1', 'legacy-sync', 'legacy', 'publish', '0 3 * * *', 'param-1', 0, 0)`)
	require.NoError(t, err)

	defs, err := s.LegacyJobDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "legacy-sync", defs[0].JobName)
	assert.Equal(t, "0 3 * * *", defs[0].CronExpression)
	assert.Equal(t, "param-1", defs[0].InvokeParam)
}
