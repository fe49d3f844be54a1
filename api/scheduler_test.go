package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/billing"
)

func TestScheduler_RunNowGeneratesAndRefreshes(t *testing.T) {
	// GIVEN: two societies, one without any rule
	s := newTestServer(t)
	s.addUnit(t, "A-101", "2BHK", "res-a101")
	rec := s.do(t, &testAdmin, http.MethodPost, "/api/rules", rule2BHKJSON)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, s.handler.Store.UpsertUnit(context.Background(), billing.Unit{
		ID: "X-1", SocietyID: "aurora", Category: "Villa", Billable: true,
	}))

	now := time.Date(2025, time.March, 9, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := s.handler
	sched := NewBillingScheduler(h.Store, h.Generator, h.Ledger, billing.DefaultConfig(), clock)

	// WHEN
	run := sched.RunNow(context.Background())

	// THEN: greenview billed and refreshed to overdue; aurora reported
	assert.Equal(t, 2, run.Societies)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.Refreshed)
	assert.Equal(t, 1, run.Failed)

	bills, err := h.Store.ListBills(context.Background(), billing.BillFilter{SocietyID: "greenview"})
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, billing.StatusOverdue, bills[0].Status)
	assert.Equal(t, "200.00", bills[0].AccruedPenalty.String())

	// A second pass is a no-op for greenview
	run = sched.RunNow(context.Background())
	assert.Zero(t, run.Created)
	assert.Zero(t, run.Refreshed)

	assert.Equal(t, now.Add(time.Hour), sched.GetNextRunTime())
}

func TestScheduler_StatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	// No scheduler wired
	rec := s.do(t, &testAdmin, http.MethodGet, "/api/scheduler", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[SchedulerStatusDTO](t, rec).Enabled)

	// GIVEN: an enabled scheduler with a 30 minute interval
	h := s.handler
	sched := NewBillingScheduler(h.Store, h.Generator, h.Ledger, billing.DefaultConfig(), h.now)
	sched.CheckInterval = 30 * time.Minute
	h.Scheduler = sched

	// WHEN
	rec = s.do(t, &testAdmin, http.MethodGet, "/api/scheduler", nil)

	// THEN: next run is one interval from now
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[SchedulerStatusDTO](t, rec)
	assert.True(t, status.Enabled)
	assert.Equal(t, "30m0s", status.Interval)
	assert.Equal(t, "2025-03-09T12:30:00Z", status.NextRunAt)

	rec = s.do(t, &testResident, http.MethodGet, "/api/scheduler", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	h := s.handler
	sched := NewBillingScheduler(h.Store, h.Generator, h.Ledger, billing.DefaultConfig(), nil)
	sched.CheckInterval = 10 * time.Millisecond

	sched.Start()
	time.Sleep(30 * time.Millisecond)
	sched.Stop()
	sched.Stop()

	disabled := NewBillingScheduler(h.Store, h.Generator, h.Ledger, billing.DefaultConfig(), nil)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
