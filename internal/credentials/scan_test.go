package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tubelink/internal/cache"
	"github.com/dropDatabas3/tubelink/internal/domain/repository"
)

func TestScanAndRefresh_SelectsAndIsolatesFailures(t *testing.T) {
	e := newEnv(t, Options{RefreshThreshold: 5 * time.Minute})
	ctx := context.Background()

	e.seed(t, "a", t0.Add(time.Minute))
	e.seed(t, "b", t0.Add(2*time.Minute))
	e.seed(t, "c", t0.Add(time.Hour))
	e.seed(t, "d", t0.Add(time.Minute))
	_, err := e.store.Store.UpdateStatus(ctx, "d", repository.StatusError, "previous failure")
	require.NoError(t, err)

	e.oauth.setRefreshErr("rt-b", errUnavailable)

	report, err := e.mgr.ScanAndRefresh(ctx, 0)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, report.Selected)
	assert.Equal(t, []string{"a"}, report.Refreshed)
	require.Contains(t, report.Failed, "b")
	assert.NotContains(t, report.Failed, "c")
	assert.NotContains(t, report.Failed, "d")

	a := e.get(t, "a")
	assert.Equal(t, repository.StatusActive, a.Status)
	assert.True(t, a.TokenExpiresAt.Equal(t0.Add(2*time.Hour)))
	require.NotNil(t, a.LastRefreshAt, "a refreshed credential records when it happened")
	assert.True(t, a.LastRefreshAt.Equal(t0))
	assert.Nil(t, e.get(t, "b").LastRefreshAt)
	assert.Equal(t, repository.StatusError, e.get(t, "b").Status)
	assert.True(t, e.get(t, "c").TokenExpiresAt.Equal(t0.Add(time.Hour)), "outside the window stays untouched")
	assert.Equal(t, repository.StatusError, e.get(t, "d").Status, "ERROR is not picked by the scan")
	assert.Equal(t, int32(2), e.oauth.refreshCalls.Load())
}

func TestScanAndRefresh_ThresholdOverride(t *testing.T) {
	e := newEnv(t, Options{RefreshThreshold: time.Minute})
	e.seed(t, "a", t0.Add(10*time.Minute))

	report, err := e.mgr.ScanAndRefresh(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, report.Selected)

	report, err = e.mgr.ScanAndRefresh(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Refreshed)
}

func TestScanAndRefresh_TenantTimeout(t *testing.T) {
	e := newEnv(t, Options{TenantTimeout: 50 * time.Millisecond})
	e.seed(t, "a", t0.Add(time.Minute))
	e.seed(t, "b", t0.Add(time.Minute))
	e.oauth.setRefreshDelay("rt-b", 5*time.Second)

	start := time.Now()
	report, err := e.mgr.ScanAndRefresh(context.Background(), 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []string{"a"}, report.Refreshed)
	require.Contains(t, report.Failed, "b")

	// el registro de la falla sobrevive al ctx vencido del tenant
	b := e.get(t, "b")
	assert.Equal(t, repository.StatusError, b.Status)
	assert.NotEmpty(t, b.ErrorMessage)
}

func TestScanAndRefresh_CancelledScanKeepsCredentialEligible(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(time.Minute))
	e.oauth.setRefreshDelay("rt-a", 300*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := e.mgr.ScanAndRefresh(ctx, 0)
	require.NoError(t, err)
	require.Contains(t, report.Failed, "a")

	// el scan se cortó pero Google nunca falló: sigue ACTIVE y elegible
	assert.Equal(t, repository.StatusActive, e.get(t, "a").Status)
	due, err := e.store.ListActiveNearExpiry(context.Background(), t0, 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	// el refresh compartido termina por su cuenta
	require.Eventually(t, func() bool {
		return e.get(t, "a").TokenExpiresAt.Equal(t0.Add(2 * time.Hour))
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, e.store.recorded(), repository.StatusError)
	assert.Empty(t, e.notifier.all())
}

func TestRefreshOne_CallerCancelDoesNotFailSharedRefresh(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(time.Minute))
	e.oauth.setRefreshDelay("rt-a", 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := e.mgr.RefreshOne(ctx, "a")
		first <- err
	}()
	require.Eventually(t, func() bool { return e.oauth.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := e.mgr.RefreshOne(context.Background(), "a")
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	require.NoError(t, <-second)

	a := e.get(t, "a")
	assert.Equal(t, repository.StatusActive, a.Status)
	assert.True(t, a.TokenExpiresAt.Equal(t0.Add(2*time.Hour)))
	assert.Equal(t, int32(1), e.oauth.refreshCalls.Load())
	assert.Empty(t, e.store.recorded())
}

func TestScanAndRefresh_BoundedWorkers(t *testing.T) {
	e := newEnv(t, Options{Workers: 2})
	for _, id := range []string{"a", "b", "c", "d"} {
		e.seed(t, id, t0.Add(time.Minute))
		e.oauth.setRefreshDelay("rt-"+id, 30*time.Millisecond)
	}

	report, err := e.mgr.ScanAndRefresh(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, report.Refreshed, 4)
	assert.LessOrEqual(t, e.oauth.maxInflight.Load(), int32(2))
}

func TestScanAndRefresh_Empty(t *testing.T) {
	e := newEnv(t, Options{})
	report, err := e.mgr.ScanAndRefresh(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, report.Selected)
	assert.Empty(t, report.Failed)
}

func TestScanner_LeaseIsExclusive(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(time.Minute))
	lock := cache.NewMemory("test")

	s1 := NewScanner(e.mgr, ScannerOptions{Interval: time.Minute, Lock: lock})
	s2 := NewScanner(e.mgr, ScannerOptions{Interval: time.Minute, Lock: lock})

	report, err := s1.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Refreshed)

	_, err = s2.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrLeaseHeld)
}

func TestScanner_RunTriggerAndStop(t *testing.T) {
	e := newEnv(t, Options{})
	e.seed(t, "a", t0.Add(time.Minute))

	s := NewScanner(e.mgr, ScannerOptions{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Trigger()
	require.Eventually(t, func() bool {
		return e.oauth.refreshCalls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop")
	}
}
