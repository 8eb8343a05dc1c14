package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/circuitloop/internal/orchestrator"
)

func TestRunStore_CreateAndList(t *testing.T) {
	s := NewRunStore()
	a := s.Create("s1", nil)
	b := s.Create("s2", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "s1", a.Events.SessionID())

	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
	assert.False(t, list[0].Done)
}

func TestRunStore_Finish(t *testing.T) {
	s := NewRunStore()
	r := s.Create("s1", nil)

	res := &orchestrator.Result{
		Outcome: orchestrator.OutcomeError,
		Summary: orchestrator.FinalSummary{Outcome: orchestrator.OutcomeError, ReadinessScore: 80},
		Source:  "<board />",
		Err:     errors.New("compiler unavailable"),
	}
	require.NoError(t, s.Finish(r.ID, res))

	info, err := s.Info(r.ID)
	require.NoError(t, err)
	assert.True(t, info.Done)
	assert.Equal(t, orchestrator.OutcomeError, info.Outcome)
	require.NotNil(t, info.Summary)
	assert.Equal(t, 80, info.Summary.ReadinessScore)
	assert.Equal(t, "compiler unavailable", info.Error)

	assert.Error(t, s.Finish("missing", res))
	_, err = s.Info("missing")
	assert.Error(t, err)
}

func TestRunStore_Cancel(t *testing.T) {
	s := NewRunStore()
	called := false
	r := s.Create("s1", func() { called = true })

	require.NoError(t, s.Cancel(r.ID))
	assert.True(t, called)
	assert.Error(t, s.Cancel("missing"))
}

func TestRunStore_WaitReturnsRecordedResult(t *testing.T) {
	s := NewRunStore()
	r := s.Create("s1", nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.Finish(r.ID, &orchestrator.Result{Outcome: orchestrator.OutcomeConverged})
	}()
	info, err := s.Wait(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, info.Done)
	assert.Equal(t, orchestrator.OutcomeConverged, info.Outcome)

	assert.ErrorContains(t, s.Finish(r.ID, &orchestrator.Result{}), "already finished")
	_, err = s.Wait(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRunStore_WaitHonoursContext(t *testing.T) {
	s := NewRunStore()
	r := s.Create("s1", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, r.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunStore_EvictsExpiredFinishedRuns(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewRunStore(WithRunTTL(time.Minute), withClock(func() time.Time { return now }))

	done := s.Create("a", nil)
	require.NoError(t, s.Finish(done.ID, &orchestrator.Result{}))
	running := s.Create("b", nil)

	now = now.Add(2 * time.Minute)
	fresh := s.Create("c", nil)

	_, ok := s.Get(done.ID)
	assert.False(t, ok)
	_, ok = s.Get(running.ID)
	assert.True(t, ok, "running loops are never evicted")
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, running.ID, list[0].ID)
	assert.Equal(t, fresh.ID, list[1].ID)
}

func TestRunStore_CapEvictsOldestFinished(t *testing.T) {
	s := NewRunStore(WithMaxRuns(2))

	first := s.Create("a", nil)
	second := s.Create("b", nil)
	require.NoError(t, s.Finish(first.ID, &orchestrator.Result{}))
	require.NoError(t, s.Finish(second.ID, &orchestrator.Result{}))
	third := s.Create("c", nil)

	var ids []string
	for _, info := range s.List() {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{second.ID, third.ID}, ids)

	fourth := s.Create("d", nil)
	_, ok := s.Get(second.ID)
	assert.False(t, ok)

	// Only running loops remain, so the cap yields.
	fifth := s.Create("e", nil)
	ids = ids[:0]
	for _, info := range s.List() {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{third.ID, fourth.ID, fifth.ID}, ids)
}
