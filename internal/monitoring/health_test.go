package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/charlesng35/clinicauth/internal/database/testutil"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestEvaluateAllUp(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	manager := NewHealthManager(DatabaseCheck(db, time.Second), RedisCheck(nil, 0))

	report := manager.Evaluate(context.Background())
	require.True(t, report.Success)
	require.Equal(t, StatusUp, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "redis disabled", report.Checks[1].Details)
}

func TestEvaluateDownWinsOverDegraded(t *testing.T) {
	manager := NewHealthManager(
		RedisCheck(pingerFunc(func(context.Context) error { return context.DeadlineExceeded }), 0),
		RedisCheck(pingerFunc(func(context.Context) error { return errors.New("connection refused") }), 0),
	)

	report := manager.Evaluate(context.Background())
	require.False(t, report.Success)
	require.Equal(t, StatusDown, report.Status)
	require.Equal(t, StatusDegraded, report.Checks[0].Status)
	require.Equal(t, StatusDown, report.Checks[1].Status)
}

func TestEvaluateRecoversPanickingProbe(t *testing.T) {
	manager := NewHealthManager(
		NewCheck("boom", func(context.Context) ProbeResult { panic("probe exploded") }),
		NewCheck("", nil),
	)

	report := manager.Evaluate(context.Background())
	require.Len(t, report.Checks, 1)
	require.Equal(t, StatusDown, report.Status)
	require.Equal(t, "boom", report.Checks[0].Component)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
}

func TestDatabaseCheckWithoutHandle(t *testing.T) {
	report := NewHealthManager(DatabaseCheck(nil, 0)).Evaluate(context.Background())
	require.Equal(t, StatusDown, report.Status)
	require.Equal(t, "database not configured", report.Checks[0].Details)
}
