package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotsched/internal/clock"
	"slotsched/internal/dispatch"
	"slotsched/internal/handler"
	"slotsched/internal/store"
	"slotsched/internal/trigger"
	"slotsched/internal/window"
	"slotsched/pkg/logx"
)

type nopSink struct{}

func (nopSink) Publish(context.Context, string, map[string]any) error { return nil }

func newService(t *testing.T, now time.Time) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.Fixed(now)
	reg := handler.NewRegistry()
	reg.Register(handler.RefPublish, handler.NewPublishHandler(nopSink{}))
	reg.Register(handler.RefSlotExecution, handler.NewSlotExecutionHandler(nopSink{}))
	disp := dispatch.New(reg, clk, logx.Nop())
	mgr := trigger.New(trigger.Config{}, st, disp, clk, logx.Nop())
	return NewService(mgr, reg, clk, logx.Nop()), st
}

func flexTime(t *testing.T, s string) FlexTime {
	t.Helper()
	var f FlexTime
	require.NoError(t, f.UnmarshalJSON([]byte(`"`+s+`"`)))
	return f
}

func TestScheduleJobDutyCycle(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newService(t, now)

	resp := svc.ScheduleJob(context.Background(), ScheduleRequest{
		JobName:              "cycle-1",
		JobGroup:             "cycles",
		StartTime:            flexTime(t, "2025-02-15T09:00:00Z"),
		EndTime:              flexTime(t, "2025-02-15T15:00:00Z"),
		WorkDurationMinutes:  120,
		PauseDurationMinutes: 60,
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, 2, resp.TriggerCount)
	assert.Equal(t, []string{"2025-02-15T09:00:00Z", "2025-02-15T12:00:00Z"}, resp.ScheduledTimes)
	assert.Equal(t, "Job scheduled successfully with 2 execution(s)", resp.Message)

	trigs, err := st.TriggersForJob(context.Background(), "cycle-1", "cycles")
	require.NoError(t, err)
	assert.Len(t, trigs, 2)
}

func TestScheduleJobValidation(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newService(t, now)
	ctx := context.Background()

	base := ScheduleRequest{
		JobName:   "v",
		StartTime: flexTime(t, "2025-02-15T09:00:00Z"),
		EndTime:   flexTime(t, "2025-02-15T15:00:00Z"),
	}

	cases := []struct {
		name   string
		mutate func(*ScheduleRequest)
		msg    string
	}{
		{"startAfterEnd", func(r *ScheduleRequest) {
			r.StartTime = flexTime(t, "2025-02-16T09:00:00Z")
		}, "Start time must be before end time"},
		{"startInPast", func(r *ScheduleRequest) {
			r.StartTime = flexTime(t, "2025-01-01T09:00:00Z")
			r.EndTime = flexTime(t, "2025-01-01T15:00:00Z")
		}, "Start time cannot be in the past"},
		{"badTimezone", func(r *ScheduleRequest) {
			r.Timezone = "Mars/Olympus"
		}, "Invalid timezone: Mars/Olympus"},
		{"missingStart", func(r *ScheduleRequest) {
			r.StartTime = FlexTime{}
		}, "Invalid or missing startTime"},
		{"unknownHandler", func(r *ScheduleRequest) {
			r.HandlerRef = "nope"
		}, "Unknown handler reference: nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			resp := svc.ScheduleJob(ctx, req)
			assert.False(t, resp.Success)
			assert.Equal(t, tc.msg, resp.Message)
		})
	}
}

func TestScheduleGenericRequiresHandler(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newService(t, now)

	resp := svc.ScheduleGeneric(context.Background(), ScheduleRequest{JobName: "g"})
	assert.False(t, resp.Success)
	assert.Equal(t, "handlerRef is required", resp.Message)
}

func TestScheduleJobRecurringDaily(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newService(t, now)

	resp := svc.ScheduleJob(context.Background(), ScheduleRequest{
		JobName:             "daily-1",
		Recurring:           true,
		RecurrenceFrequency: "DAILY",
		StartTime:           flexTime(t, "2025-02-10T08:00:00Z"),
		EndTime:             flexTime(t, "2025-02-12T08:00:00Z"),
	})
	require.True(t, resp.Success, resp.Message)
	// One trigger per day at the anchor time.
	assert.Equal(t, 3, resp.TriggerCount)
}

func TestScheduleSlots(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newService(t, now)

	resp := svc.ScheduleSlots(context.Background(), SlotVisibilityRequest{
		ProductCode:    "P1",
		GameCode:       "WOF",
		Count:          5,
		ValidFrom:      "2026-01-05",
		ValidTo:        "2026-01-16T23:59:59Z",
		DaysOfWeek:     []string{"MON", "FRI"},
		TimeSlots:      []window.TimeSlot{{Start: "10:00", End: "22:00"}},
		ExclusionDates: []string{"2026-01-09"},
		Metadata:       map[string]any{"tier": "gold", "nested": map[string]any{"x": 1}},
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "P1-WOF", resp.JobID)
	assert.Equal(t, "slot-P1-WOF", resp.JobName)
	assert.Equal(t, "slots-WOF", resp.JobGroup)
	assert.Equal(t, 3, resp.TriggerCount)
	assert.Equal(t, []string{
		"2026-01-05T10:00:00Z",
		"2026-01-12T10:00:00Z",
		"2026-01-16T10:00:00Z",
	}, resp.ScheduledTimes)

	job, err := st.GetJob(context.Background(), "slot-P1-WOF", "slots-WOF")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, handler.RefSlotExecution, job.HandlerRef)
	assert.Equal(t, "WOF", job.Payload["gameCode"])
	assert.Equal(t, "gold", job.Payload["tier"])
	assert.Nil(t, job.Payload["nested"], "nested metadata must not leak into the payload")
	assert.NotNil(t, job.Payload["slotRequest"])
}

func TestScheduleSlotsLegacyAliases(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newService(t, now)

	resp := svc.ScheduleSlots(context.Background(), SlotVisibilityRequest{
		ProductSlotID: "PS9",
		GameType:      "CRASH",
		ValidFrom:     "2026-01-05",
		ValidTo:       "2026-01-06",
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "slot-PS9-CRASH", resp.JobName)
	assert.Equal(t, "slots-CRASH", resp.JobGroup)
}

func TestScheduleSlotsNoWindows(t *testing.T) {
	// Validity range is wholly past: every instant drops, empty is a failed
	// response, not an error.
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newService(t, now)

	resp := svc.ScheduleSlots(context.Background(), SlotVisibilityRequest{
		ProductCode: "P1",
		GameCode:    "WOF",
		ValidFrom:   "2026-01-05",
		ValidTo:     "2026-01-06",
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "No visibility windows found in the schedule", resp.Message)
}

func TestScheduleSlotsReplace(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newService(t, now)
	ctx := context.Background()

	req := SlotVisibilityRequest{
		ProductCode: "P1",
		GameCode:    "WOF",
		ValidFrom:   "2026-01-05",
		ValidTo:     "2026-01-08",
	}
	resp := svc.ScheduleSlots(ctx, req)
	require.True(t, resp.Success)
	assert.Equal(t, 4, resp.TriggerCount)

	// Second submission narrows the range; the trigger set is exactly the
	// second list, not a union.
	req.ValidTo = "2026-01-06"
	resp = svc.ScheduleSlots(ctx, req)
	require.True(t, resp.Success)
	assert.Equal(t, 2, resp.TriggerCount)

	trigs, err := st.TriggersForJob(ctx, "slot-P1-WOF", "slots-WOF")
	require.NoError(t, err)
	assert.Len(t, trigs, 2)
}

func TestScheduleCampaignSlot(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newService(t, now)

	resp := svc.ScheduleCampaignSlot(context.Background(), CampaignSlotRequest{
		CampaignID:               "CAMP7",
		ProductSlotID:            "PS1",
		SlotType:                 "DAILY",
		StartTime:                flexTime(t, "2026-01-05T09:00:00Z"),
		EndTime:                  flexTime(t, "2026-01-06T15:00:00Z"),
		SlotDurationMinutes:      120,
		PauseBetweenSlotsMinutes: 60,
		Metadata:                 map[string]any{"tier": "gold"},
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "CAMP7-PS1", resp.JobID)
	assert.Equal(t, "slot-CAMP7-PS1", resp.JobName)
	assert.Equal(t, "slots-default", resp.JobGroup)
	// 3h duty cycles from 09:00 Jan 5 through 15:00 Jan 6.
	assert.Equal(t, 10, resp.TriggerCount)
	require.NotEmpty(t, resp.ScheduledTimes)
	assert.Equal(t, "2026-01-05T09:00:00Z", resp.ScheduledTimes[0])

	job, err := st.GetJob(context.Background(), "slot-CAMP7-PS1", "slots-default")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, handler.RefSlotExecution, job.HandlerRef)
	assert.Equal(t, "CAMP7", job.Payload["campaignId"])
	assert.Equal(t, "PS1", job.Payload["productSlotId"])
	assert.Equal(t, "WHEEL_OF_FORTUNE", job.Payload["gameType"])
	assert.Equal(t, "gold", job.Payload["tier"])
}

func TestScheduleCampaignSlotValidation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newService(t, now)
	ctx := context.Background()

	resp := svc.ScheduleCampaignSlot(ctx, CampaignSlotRequest{ProductSlotID: "PS1"})
	assert.False(t, resp.Success)
	assert.Equal(t, "campaignId is required", resp.Message)

	resp = svc.ScheduleCampaignSlot(ctx, CampaignSlotRequest{CampaignID: "CAMP7"})
	assert.False(t, resp.Success)
	assert.Equal(t, "productSlotId is required", resp.Message)

	// Routed through duty-cycle validation: a wholly-past range fails.
	resp = svc.ScheduleCampaignSlot(ctx, CampaignSlotRequest{
		CampaignID:    "CAMP7",
		ProductSlotID: "PS1",
		StartTime:     flexTime(t, "2025-12-01T09:00:00Z"),
		EndTime:       flexTime(t, "2025-12-02T09:00:00Z"),
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "Start time cannot be in the past", resp.Message)
}

func TestScheduleCampaignSlotsCoexistPerCampaign(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newService(t, now)
	ctx := context.Background()

	base := CampaignSlotRequest{
		ProductSlotID: "PS1",
		GameType:      "WOF",
		SlotType:      "WEEKLY",
		StartTime:     flexTime(t, "2026-01-05T09:00:00Z"),
		EndTime:       flexTime(t, "2026-01-19T09:00:00Z"),
	}

	base.CampaignID = "CAMP7"
	require.True(t, svc.ScheduleCampaignSlot(ctx, base).Success)
	base.CampaignID = "CAMP8"
	require.True(t, svc.ScheduleCampaignSlot(ctx, base).Success)

	// Campaign-scoped identities: the second campaign on the same product
	// slot does not replace the first.
	for _, name := range []string{"slot-CAMP7-PS1", "slot-CAMP8-PS1"} {
		job, err := st.GetJob(ctx, name, "slots-WOF")
		require.NoError(t, err)
		require.NotNil(t, job, name)
	}
}

func TestDeleteJobUnknownIdentity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newService(t, now)

	ok, err := svc.DeleteJob(context.Background(), "ghost", "nowhere")
	require.NoError(t, err)
	assert.False(t, ok)
}
