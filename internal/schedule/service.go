package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slotsched/internal/clock"
	"slotsched/internal/handler"
	"slotsched/internal/store"
	"slotsched/internal/trigger"
	"slotsched/internal/window"
	"slotsched/pkg/logx"
)

// DefaultGameType applies when a campaign slot request names no game.
const DefaultGameType = "WHEEL_OF_FORTUNE"

const (
	msgScheduled    = "Job scheduled successfully with %d execution(s)"
	msgNoVisibility = "No visibility windows found in the schedule"
	msgNoExecutions = "No execution windows found in the schedule range"
	msgStoreFailure = "Failed to schedule job"
)

// Service orchestrates the schedule endpoints: normalize, validate, expand,
// register. Every failure comes back as a Response with Success=false and a
// message; nothing here panics or leaks internal errors to callers.
type Service struct {
	mgr      *trigger.Manager
	handlers *handler.Registry
	clk      clock.Clock
	log      logx.Logger
}

func NewService(mgr *trigger.Manager, handlers *handler.Registry, clk clock.Clock, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{mgr: mgr, handlers: handlers, clk: clk, log: log}
}

// ScheduleJob handles the duty-cycle job endpoint. A wholly-past range is a
// validation failure here, unlike the visibility path which drops past
// instants silently.
func (s *Service) ScheduleJob(ctx context.Context, req ScheduleRequest) Response {
	loc, ok := resolveLocation(req.Timezone)
	if !ok {
		return failure("Invalid timezone: " + req.Timezone)
	}
	start, ok := req.StartTime.In(loc)
	if !ok {
		return failure("Invalid or missing startTime")
	}
	end, ok := req.EndTime.In(loc)
	if !ok {
		return failure("Invalid or missing endTime")
	}
	if start.After(end) {
		return failure("Start time must be before end time")
	}
	if start.Before(s.clk.Now()) {
		return failure("Start time cannot be in the past")
	}

	ref := req.HandlerRef
	if ref == "" {
		ref = handler.RefPublish
	}
	if _, ok := s.handlers.Resolve(ref); !ok {
		return failure("Unknown handler reference: " + ref)
	}

	var instants []time.Time
	if req.Recurring {
		freq := window.ParseFrequency(req.RecurrenceFrequency)
		instants = window.ExpandRecurring(start, end, freq,
			req.WorkDurationMinutes, req.PauseDurationMinutes, req.EndOnDateChange)
	} else {
		instants = window.Expand(start, end,
			req.WorkDurationMinutes, req.PauseDurationMinutes, req.EndOnDateChange)
	}
	if len(instants) == 0 {
		return failure(msgNoExecutions)
	}

	name, group, id := jobIdentity(req)
	payload := make(map[string]any, len(req.Payload))
	for k, v := range req.Payload {
		payload[k] = v
	}
	return s.register(ctx, store.JobRecord{
		Name:        name,
		Group:       group,
		HandlerRef:  ref,
		Description: "duty-cycle job " + id,
		Payload:     payload,
	}, id, instants, loc)
}

// ScheduleGeneric is the explicit-handler variant; the reference is
// mandatory rather than defaulted.
func (s *Service) ScheduleGeneric(ctx context.Context, req ScheduleRequest) Response {
	if req.HandlerRef == "" {
		return failure("handlerRef is required")
	}
	return s.ScheduleJob(ctx, req)
}

// ScheduleSlots handles the slot visibility endpoint.
func (s *Service) ScheduleSlots(ctx context.Context, req SlotVisibilityRequest) Response {
	norm := normalizeSlot(req)
	return s.scheduleVisibility(ctx, norm)
}

// ScheduleCampaignSlot adapts the campaign body onto the recurring
// duty-cycle path: slotType is the recurrence frequency, the slot and
// pause durations form the work/pause cycle, and the identity is
// campaign-scoped so distinct campaigns on one product slot coexist.
func (s *Service) ScheduleCampaignSlot(ctx context.Context, req CampaignSlotRequest) Response {
	if req.CampaignID == "" {
		return failure("campaignId is required")
	}
	if req.ProductSlotID == "" {
		return failure("productSlotId is required")
	}

	group := "slots-default"
	if req.GameType != "" {
		group = "slots-" + req.GameType
	}
	game := req.GameType
	if game == "" {
		game = DefaultGameType
	}

	payload := map[string]any{
		"campaignId":    req.CampaignID,
		"productSlotId": req.ProductSlotID,
		"gameType":      game,
	}
	for k, v := range req.Metadata {
		payload[k] = v
	}

	id := req.CampaignID + "-" + req.ProductSlotID
	return s.ScheduleJob(ctx, ScheduleRequest{
		JobID:                id,
		JobName:              "slot-" + id,
		JobGroup:             group,
		HandlerRef:           handler.RefSlotExecution,
		Payload:              payload,
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		Recurring:            true,
		RecurrenceFrequency:  req.SlotType,
		WorkDurationMinutes:  req.SlotDurationMinutes,
		PauseDurationMinutes: req.PauseBetweenSlotsMinutes,
		EndOnDateChange:      req.EndOnDateChange,
		Timezone:             req.Timezone,
	})
}

// DeleteJob removes a job and its triggers; false means unknown identity.
func (s *Service) DeleteJob(ctx context.Context, name, group string) (bool, error) {
	return s.mgr.DeleteJob(ctx, name, group)
}

func (s *Service) PauseJob(ctx context.Context, name, group string) error {
	return s.mgr.PauseJob(ctx, name, group)
}

func (s *Service) ResumeJob(ctx context.Context, name, group string) error {
	return s.mgr.ResumeJob(ctx, name, group)
}

// normalizedSlot is the single field set the core operates on after the
// legacy dual-field aliases are collapsed.
type normalizedSlot struct {
	jobID    string
	product  string
	game     string
	count    int
	sched    window.VisibilitySchedule
	slots    []window.TimeSlot
	refill   *RefillConfig
	timezone string
	metadata map[string]any
}

func normalizeSlot(req SlotVisibilityRequest) normalizedSlot {
	product := req.ProductCode
	if product == "" {
		product = req.ProductSlotID
	}
	game := req.GameCode
	if game == "" {
		game = req.GameType
	}
	// The response jobId is the bare pair; only the stored job name
	// carries the slot- prefix.
	return normalizedSlot{
		jobID:   product + "-" + game,
		product: product,
		game:    game,
		count:   req.Count,
		sched: window.VisibilitySchedule{
			ValidFrom:      req.ValidFrom,
			ValidTo:        req.ValidTo,
			DaysOfWeek:     req.DaysOfWeek,
			TimeSlots:      req.TimeSlots,
			ExclusionDates: req.ExclusionDates,
		},
		slots:    req.TimeSlots,
		refill:   req.RecurringRefill,
		timezone: req.Timezone,
		metadata: req.Metadata,
	}
}

func (s *Service) scheduleVisibility(ctx context.Context, norm normalizedSlot) Response {
	loc, ok := resolveLocation(norm.timezone)
	if !ok {
		return failure("Invalid timezone: " + norm.timezone)
	}
	if norm.product == "" {
		return failure("productCode is required")
	}
	if norm.game == "" {
		return failure("gameCode is required")
	}

	instants := window.ExpandVisibility(norm.sched, loc, s.clk.Now())
	if len(instants) == 0 {
		return failure(msgNoVisibility)
	}

	count := norm.count
	if norm.refill != nil {
		count = NextCount(ParseRefillStrategy(norm.refill.Strategy), 0, norm.count, norm.refill.MaxCap)
	}

	snapshot := map[string]any{
		"productCode":    norm.product,
		"gameCode":       norm.game,
		"count":          count,
		"validFrom":      norm.sched.ValidFrom,
		"validTo":        norm.sched.ValidTo,
		"daysOfWeek":     norm.sched.DaysOfWeek,
		"timeSlots":      norm.slots,
		"exclusionDates": norm.sched.ExclusionDates,
	}
	if norm.refill != nil {
		snapshot["recurringRefill"] = map[string]any{
			"frequency": string(window.ParseFrequency(norm.refill.Frequency)),
			"strategy":  string(ParseRefillStrategy(norm.refill.Strategy)),
			"maxCap":    norm.refill.MaxCap,
		}
	}

	payload := map[string]any{
		"slotRequest": snapshot,
		"productCode": norm.product,
		"gameCode":    norm.game,
		"count":       count,
	}
	mergeScalarMetadata(payload, norm.metadata)

	name := "slot-" + norm.product + "-" + norm.game
	group := "slots-" + norm.game
	return s.register(ctx, store.JobRecord{
		Name:        name,
		Group:       group,
		HandlerRef:  handler.RefSlotExecution,
		Description: "slot visibility " + norm.product,
		Payload:     payload,
	}, norm.jobID, instants, loc)
}

func (s *Service) register(ctx context.Context, job store.JobRecord, jobID string, instants []time.Time, loc *time.Location) Response {
	n, err := s.mgr.ScheduleOrReplace(ctx, job, instants)
	if err != nil {
		s.log.Error("schedule registration failed",
			logx.String("job", job.Name), logx.String("group", job.Group), logx.Err(err))
		return failure(msgStoreFailure)
	}
	times := make([]string, len(instants))
	for i, at := range instants {
		times[i] = at.In(loc).Format(time.RFC3339)
	}
	return Response{
		Success:        true,
		JobID:          jobID,
		JobName:        job.Name,
		JobGroup:       job.Group,
		TriggerCount:   n,
		ScheduledTimes: times,
		Message:        fmt.Sprintf(msgScheduled, n),
	}
}

// jobIdentity resolves the name/group/id triple for duty-cycle requests,
// generating an id when the caller provides none.
func jobIdentity(req ScheduleRequest) (name, group, id string) {
	id = req.JobID
	name = req.JobName
	if name == "" {
		name = id
	}
	if name == "" {
		name = "job-" + uuid.NewString()[:8]
	}
	if id == "" {
		id = name
	}
	group = req.JobGroup
	if group == "" {
		group = "default"
	}
	return name, group, id
}

// mergeScalarMetadata copies only scalar metadata entries into the payload;
// nested structures stay out of the event body.
func mergeScalarMetadata(payload map[string]any, meta map[string]any) {
	for k, v := range meta {
		switch v.(type) {
		case string, bool, float64, int, int64:
			if _, taken := payload[k]; !taken {
				payload[k] = v
			}
		}
	}
}

func resolveLocation(tz string) (*time.Location, bool) {
	if tz == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, false
	}
	return loc, true
}
