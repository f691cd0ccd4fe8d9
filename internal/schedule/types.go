// Package schedule is the request boundary: it normalizes inbound schedule
// requests (timezones, flexible timestamps, legacy dual fields), validates
// them, runs the window expanders, and registers the result with the
// trigger lifecycle manager.
package schedule

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"slotsched/internal/window"
)

// FlexTime accepts the timestamp forms external callers actually send:
// zoned ISO-8601, local ISO-8601 (resolved against the request timezone),
// bare calendar date, or epoch milliseconds as a number or digit string.
type FlexTime struct {
	raw    string
	millis int64
	kind   flexKind
}

type flexKind int

const (
	flexUnset flexKind = iota
	flexMillis
	flexString
)

func (f *FlexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = FlexTime{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = FlexTime{}
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*f = FlexTime{millis: ms, kind: flexMillis}
			return nil
		}
		*f = FlexTime{raw: s, kind: flexString}
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		// Fractional epoch values arrive from lax clients; truncate.
		var fv float64
		if ferr := json.Unmarshal(b, &fv); ferr != nil {
			return err
		}
		ms = int64(fv)
	}
	*f = FlexTime{millis: ms, kind: flexMillis}
	return nil
}

func (f FlexTime) IsZero() bool { return f.kind == flexUnset }

// In resolves the value in loc. String forms are tried zoned first, then
// local ISO, then the bare-date forms shared with visibility parsing.
func (f FlexTime) In(loc *time.Location) (time.Time, bool) {
	switch f.kind {
	case flexMillis:
		return time.UnixMilli(f.millis).In(loc), true
	case flexString:
		if t, err := time.Parse(time.RFC3339, f.raw); err == nil {
			return t.In(loc), true
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", f.raw, loc); err == nil {
			return t, true
		}
		return window.ParseFlexibleTime(f.raw, loc)
	default:
		return time.Time{}, false
	}
}

// ScheduleRequest is the duty-cycle job request body.
type ScheduleRequest struct {
	JobID                string         `json:"jobId"`
	JobName              string         `json:"jobName"`
	JobGroup             string         `json:"jobGroup"`
	HandlerRef           string         `json:"handlerRef"`
	Payload              map[string]any `json:"payload"`
	StartTime            FlexTime       `json:"startTime"`
	EndTime              FlexTime       `json:"endTime"`
	Recurring            bool           `json:"recurring"`
	RecurrenceFrequency  string         `json:"recurrenceFrequency"`
	WorkDurationMinutes  int            `json:"workDurationMinutes"`
	PauseDurationMinutes int            `json:"pauseDurationMinutes"`
	EndOnDateChange      bool           `json:"endOnDateChange"`
	Timezone             string         `json:"timezone"`
}

// RefillConfig describes how a recurring slot's count refills per
// occurrence.
type RefillConfig struct {
	Frequency string `json:"frequency"`
	Strategy  string `json:"strategy"`
	MaxCap    int    `json:"maxCap"`
}

// SlotVisibilityRequest is the slot scheduling body. ProductSlotID and
// GameType are legacy aliases for ProductCode and GameCode; normalization
// collapses them before the core sees the request.
type SlotVisibilityRequest struct {
	ProductCode    string            `json:"productCode"`
	ProductSlotID  string            `json:"productSlotId"`
	GameCode       string            `json:"gameCode"`
	GameType       string            `json:"gameType"`
	Count          int               `json:"count"`
	ValidFrom      string            `json:"validFrom"`
	ValidTo        string            `json:"validTo"`
	DaysOfWeek     []string          `json:"daysOfWeek,omitempty"`
	TimeSlots      []window.TimeSlot `json:"timeSlots,omitempty"`
	ExclusionDates []string          `json:"exclusionDates,omitempty"`
	RecurringRefill *RefillConfig    `json:"recurringRefill,omitempty"`
	Timezone       string            `json:"timezone"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// CampaignSlotRequest is the campaign slot body: a recurring duty-cycle
// schedule where SlotType (DAILY, WEEKLY, MONTHLY) is the recurrence
// frequency and the slot/pause durations form the work/pause cycle.
// GameType defaults to WHEEL_OF_FORTUNE in the payload; zero durations
// mean the slot runs from start to end without a cycle.
type CampaignSlotRequest struct {
	CampaignID               string         `json:"campaignId"`
	ProductSlotID            string         `json:"productSlotId"`
	SlotType                 string         `json:"slotType"`
	GameType                 string         `json:"gameType"`
	StartTime                FlexTime       `json:"startTime"`
	EndTime                  FlexTime       `json:"endTime"`
	SlotDurationMinutes      int            `json:"slotDurationMinutes"`
	PauseBetweenSlotsMinutes int            `json:"pauseBetweenSlotsMinutes"`
	EndOnDateChange          bool           `json:"endOnDateChange"`
	Timezone                 string         `json:"timezone"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
}

// Response is the uniform schedule-operation reply.
type Response struct {
	Success        bool     `json:"success"`
	JobID          string   `json:"jobId,omitempty"`
	JobName        string   `json:"jobName,omitempty"`
	JobGroup       string   `json:"jobGroup,omitempty"`
	TriggerCount   int      `json:"triggerCount"`
	ScheduledTimes []string `json:"scheduledTimes,omitempty"`
	Message        string   `json:"message"`
}

func failure(msg string) Response {
	return Response{Success: false, Message: msg}
}
