package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/points"
)

type fakeVerifier struct {
	mu     sync.Mutex
	calls  int
	drifts []points.Drift
	err    error
}

func (f *fakeVerifier) VerifyTotals(ctx context.Context) ([]points.Drift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.drifts, f.err
}

func (f *fakeVerifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []int
}

func (f *fakeReporter) AuditCompleted(drifted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, drifted)
}

func (f *fakeReporter) Reports() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.reports...)
}

func TestAuditScheduler_RunNowReportsDrift(t *testing.T) {
	v := &fakeVerifier{drifts: []points.Drift{
		{ParticipantID: "p-1", StoredTotal: 105, ApprovedSum: 90, LedgerSum: 90},
	}}
	r := &fakeReporter{}
	as := NewAuditScheduler(v, nil, r)

	drifts := as.RunNow()

	require.Len(t, drifts, 1)
	assert.Equal(t, "p-1", drifts[0].ParticipantID)
	assert.Equal(t, []int{1}, r.Reports())
	assert.WithinDuration(t, time.Now().Add(as.CheckInterval), as.GetNextRunTime(), time.Second)
}

func TestAuditScheduler_RunNowFailure(t *testing.T) {
	v := &fakeVerifier{err: errors.New("database is locked")}
	r := &fakeReporter{}
	as := NewAuditScheduler(v, nil, r)

	assert.Nil(t, as.RunNow())
	assert.Equal(t, []int{-1}, r.Reports())
}

func TestAuditScheduler_DisabledWithZeroInterval(t *testing.T) {
	v := &fakeVerifier{}
	as := NewAuditScheduler(v, nil, nil)
	as.CheckInterval = 0

	as.Start()
	as.Stop()

	assert.Equal(t, 0, v.Calls())
}

func TestAuditScheduler_StartRunsImmediately(t *testing.T) {
	v := &fakeVerifier{}
	r := &fakeReporter{}
	as := NewAuditScheduler(v, nil, r)
	as.CheckInterval = time.Hour

	as.Start()
	as.Start() // second Start is a no-op
	require.Eventually(t, func() bool { return v.Calls() == 1 }, time.Second, 10*time.Millisecond)
	as.Stop()
	as.Stop()

	assert.Equal(t, 1, v.Calls())
	assert.Equal(t, []int{0}, r.Reports())
}

// slowVerifier takes 100ms per audit and signals when the first one starts.
type slowVerifier struct {
	started chan struct{}
	once    sync.Once
}

func (v *slowVerifier) VerifyTotals(ctx context.Context) ([]points.Drift, error) {
	v.once.Do(func() { close(v.started) })
	time.Sleep(100 * time.Millisecond)
	return nil, nil
}

func TestAuditScheduler_StopWaitsForInFlightAudit(t *testing.T) {
	// GIVEN: an audit is running
	v := &slowVerifier{started: make(chan struct{})}
	r := &fakeReporter{}
	as := NewAuditScheduler(v, nil, r)
	as.Start()

	select {
	case <-v.started:
	case <-time.After(time.Second):
		t.Fatal("audit did not start")
	}

	// WHEN: Stop is called mid-audit
	done := make(chan struct{})
	go func() {
		as.Stop()
		close(done)
	}()

	// THEN: Stop returns once the audit finishes and the run is recorded
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while an audit was in flight")
	}
	assert.Equal(t, []int{0}, r.Reports())
}
