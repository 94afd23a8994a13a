package state

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithoutSQLConnReturnsFreshState(t *testing.T) {
	m := New(nil, "sentinel")
	st, err := m.Load(nil)
	require.NoError(t, err)
	require.Equal(t, "sentinel", st.ServiceName)
	require.False(t, st.ServiceStartTime.IsZero())
	require.Zero(t, st.CycleCount)
	require.Empty(t, st.LastError)
}

func TestPersistWithoutSQLConnIsNoop(t *testing.T) {
	m := New(nil, "sentinel")
	err := m.Persist(nil, &BotState{ServiceName: "sentinel", CycleCount: 5})
	require.NoError(t, err)
}

func TestRecordCycleIncrementsAndClearsError(t *testing.T) {
	m := New(nil, "sentinel")
	st := &BotState{ServiceName: "sentinel", ServiceStartTime: time.Now().Add(-time.Hour)}

	require.NoError(t, m.RecordCycle(nil, st, errors.New("exchange timeout")))
	require.EqualValues(t, 1, st.CycleCount)
	require.Equal(t, "exchange timeout", st.LastError)
	first := st.LastCycleTime
	require.False(t, first.IsZero())

	require.NoError(t, m.RecordCycle(nil, st, nil))
	require.EqualValues(t, 2, st.CycleCount)
	require.Empty(t, st.LastError)
	require.True(t, !st.LastCycleTime.Before(first))
}

func TestRecordCycleNilStateIsNoop(t *testing.T) {
	m := New(nil, "sentinel")
	require.NoError(t, m.RecordCycle(nil, nil, nil))
}
