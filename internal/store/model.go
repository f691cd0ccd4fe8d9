package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TriggerState is the lifecycle state of one durable one-shot trigger.
type TriggerState string

const (
	StateScheduled TriggerState = "SCHEDULED"
	StatePaused    TriggerState = "PAUSED"
	StateFired     TriggerState = "FIRED"
)

// JobRecord is the durable job definition a set of triggers points at.
// (job_name, job_group) is the unique identity.
type JobRecord struct {
	Name        string
	Group       string
	HandlerRef  string
	Description string
	Payload     map[string]any
	CreatedAt   time.Time
}

// TriggerRecord is one durable one-shot trigger.
type TriggerRecord struct {
	Name      string
	Group     string
	JobName   string
	JobGroup  string
	FireAt    time.Time
	State     TriggerState
	CreatedAt time.Time
}

// JobDefinition is a row of the legacy job_scheduler table: a cron-based
// recurring job descriptor consumed only during startup reconciliation.
type JobDefinition struct {
	ID             string
	JobName        string
	JobGroup       string
	HandlerRef     string
	CronExpression string
	InvokeParam    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Row types mirror the schema with db tags; instants are unix milliseconds
// so the same scan path works on sqlite and postgres.

type jobRow struct {
	JobName     string `db:"job_name"`
	JobGroup    string `db:"job_group"`
	HandlerRef  string `db:"handler_ref"`
	Description string `db:"description"`
	Payload     string `db:"payload"`
	CreatedAt   int64  `db:"created_at"`
}

func (r jobRow) record() JobRecord {
	rec := JobRecord{
		Name:        r.JobName,
		Group:       r.JobGroup,
		HandlerRef:  r.HandlerRef,
		Description: r.Description,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
	if r.Payload != "" {
		_ = json.Unmarshal([]byte(r.Payload), &rec.Payload)
	}
	return rec
}

type triggerRow struct {
	TriggerName  string `db:"trigger_name"`
	TriggerGroup string `db:"trigger_group"`
	JobName      string `db:"job_name"`
	JobGroup     string `db:"job_group"`
	FireAt       int64  `db:"fire_at"`
	State        string `db:"state"`
	CreatedAt    int64  `db:"created_at"`
}

func (r triggerRow) record() TriggerRecord {
	return TriggerRecord{
		Name:      r.TriggerName,
		Group:     r.TriggerGroup,
		JobName:   r.JobName,
		JobGroup:  r.JobGroup,
		FireAt:    fromMillis(r.FireAt),
		State:     TriggerState(r.State),
		CreatedAt: fromMillis(r.CreatedAt),
	}
}

type jobDefinitionRow struct {
	ID             string         `db:"id"`
	JobName        string         `db:"job_name"`
	JobGroup       string         `db:"job_group"`
	HandlerRef     string         `db:"handler_ref"`
	CronExpression string         `db:"cron_expression"`
	InvokeParam    sql.NullString `db:"invoke_param"`
	CreatedAt      int64          `db:"created_at"`
	UpdatedAt      int64          `db:"updated_at"`
}

func (r jobDefinitionRow) record() JobDefinition {
	return JobDefinition{
		ID:             r.ID,
		JobName:        r.JobName,
		JobGroup:       r.JobGroup,
		HandlerRef:     r.HandlerRef,
		CronExpression: r.CronExpression,
		InvokeParam:    r.InvokeParam.String,
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
