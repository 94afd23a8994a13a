// Package state implements the StateManager described in spec §4.16: the bot's
// durable run counters, loaded once at startup and persisted at each cycle boundary
// so a restart resumes cycle_count and last_error instead of starting cold, while
// service_start_time is fixed at the moment the service itself first came up.
package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// BotState is the durable run state tracked across the service lifetime.
type BotState struct {
	ServiceName      string
	ServiceStartTime time.Time
	CycleCount       int64
	LastCycleTime    time.Time
	LastError        string
}

// Manager loads and persists BotState for a single named service instance.
type Manager struct {
	sqlConn     sqlx.SqlConn
	serviceName string
}

// New constructs a Manager backed by conn. serviceName identifies the row this
// instance owns, allowing multiple bot instances to share one database.
func New(conn sqlx.SqlConn, serviceName string) *Manager {
	return &Manager{sqlConn: conn, serviceName: serviceName}
}

// Load restores the persisted BotState for this service, per spec §4.16's
// "StateManager.load() to restore counters (service_start_time preserved,
// cycle_count continues)". When no row exists yet, it returns a fresh BotState
// with ServiceStartTime set to now — the first persist() call creates the row.
func (m *Manager) Load(ctx context.Context) (*BotState, error) {
	now := time.Now().UTC()
	fresh := &BotState{ServiceName: m.serviceName, ServiceStartTime: now}
	if m == nil || m.sqlConn == nil {
		return fresh, nil
	}

	const query = `
SELECT service_start_time, cycle_count, last_cycle_time, last_error
FROM public.bot_state
WHERE service_name = $1`

	var row struct {
		ServiceStartTime time.Time      `db:"service_start_time"`
		CycleCount       int64          `db:"cycle_count"`
		LastCycleTime    sql.NullTime   `db:"last_cycle_time"`
		LastError        sql.NullString `db:"last_error"`
	}
	if err := m.sqlConn.QueryRowCtx(ctx, &row, query, m.serviceName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logx.WithContext(ctx).Infof("state: no prior bot_state row for service=%s, starting fresh", m.serviceName)
			return fresh, nil
		}
		return nil, err
	}

	restored := &BotState{
		ServiceName:      m.serviceName,
		ServiceStartTime: row.ServiceStartTime,
		CycleCount:       row.CycleCount,
	}
	if row.LastCycleTime.Valid {
		restored.LastCycleTime = row.LastCycleTime.Time
	}
	if row.LastError.Valid {
		restored.LastError = row.LastError.String
	}
	return restored, nil
}

// Persist writes st, per spec §4.15 step 6's
// "StateManager.persist({cycle_count += 1, last_cycle_time = now, last_error = last?})".
// Callers pass the already-incremented BotState; Persist upserts it, except that an
// existing row keeps its stored service_start_time.
func (m *Manager) Persist(ctx context.Context, st *BotState) error {
	if m == nil || m.sqlConn == nil || st == nil {
		return nil
	}

	const stmt = `
INSERT INTO public.bot_state (service_name, service_start_time, cycle_count, last_cycle_time, last_error, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
ON CONFLICT (service_name) DO UPDATE SET
    cycle_count = EXCLUDED.cycle_count,
    last_cycle_time = EXCLUDED.last_cycle_time,
    last_error = EXCLUDED.last_error,
    updated_at = NOW();`

	var lastCycle interface{}
	if !st.LastCycleTime.IsZero() {
		lastCycle = st.LastCycleTime
	}
	_, err := m.sqlConn.ExecCtx(ctx, stmt, m.serviceName, st.ServiceStartTime, st.CycleCount, lastCycle, st.LastError)
	return err
}

// RecordCycle applies the spec §4.15 step-6 update to st and persists the result:
// cycle_count increments, last_cycle_time becomes now, and last_error is set when
// cycleErr is non-nil or cleared when it is nil.
func (m *Manager) RecordCycle(ctx context.Context, st *BotState, cycleErr error) error {
	if st == nil {
		return nil
	}
	st.CycleCount++
	st.LastCycleTime = time.Now().UTC()
	if cycleErr != nil {
		st.LastError = cycleErr.Error()
	} else {
		st.LastError = ""
	}
	return m.Persist(ctx, st)
}
