package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"slotsched/internal/store"
	"slotsched/pkg/logx"
)

// cronParser accepts both 5-field and Quartz-style 6-field (leading
// seconds) expressions, plus descriptors like @daily.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ReconcileOnStartup re-registers every legacy cron job definition as a
// one-shot trigger at its next cron occurrence. It runs synchronously
// before the HTTP listener comes up, so the API never observes a
// half-reconciled store. Per-definition failures are logged and skipped;
// one bad row must not block the rest.
func (m *Manager) ReconcileOnStartup(ctx context.Context) error {
	defs, err := m.st.LegacyJobDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("load job definitions: %w", err)
	}
	if len(defs) == 0 {
		m.log.Info("startup reconciliation: no legacy job definitions")
		return nil
	}

	registered := 0
	for _, def := range defs {
		if m.disp.IsRunning(def.JobName, def.JobGroup) {
			m.log.Warn("reconciliation skipped, job currently executing",
				logx.String("job", def.JobName), logx.String("group", def.JobGroup))
			continue
		}
		sched, err := cronParser.Parse(def.CronExpression)
		if err != nil {
			m.log.Error("bad cron expression in job definition",
				logx.String("job", def.JobName),
				logx.String("cron", def.CronExpression), logx.Err(err))
			continue
		}
		next := sched.Next(m.clk.Now().UTC())
		if next.IsZero() {
			m.log.Warn("cron expression has no future occurrence",
				logx.String("job", def.JobName), logx.String("cron", def.CronExpression))
			continue
		}

		job := store.JobRecord{
			Name:        def.JobName,
			Group:       def.JobGroup,
			HandlerRef:  def.HandlerRef,
			Description: "reconciled from job definition " + def.ID,
			Payload:     decodeInvokeParam(def.InvokeParam),
		}
		if _, err := m.ScheduleOrReplace(ctx, job, []time.Time{next}); err != nil {
			m.log.Error("reconciliation failed for job",
				logx.String("job", def.JobName), logx.Err(err))
			continue
		}
		registered++
	}

	m.log.Info("startup reconciliation complete",
		logx.Int("definitions", len(defs)), logx.Int("registered", registered))
	return nil
}

// decodeInvokeParam turns the stored invoke parameter into a payload. JSON
// objects become the payload directly; anything else rides under "param".
func decodeInvokeParam(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj
	}
	return map[string]any{"param": raw}
}
