package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecheck/internal/liveness"
	id "livecheck/pkg/domain"
	"livecheck/pkg/platform/sentinel"
)

var storeT0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(user id.UserID) *Session {
	return &Session{ID: id.NewSessionID(), UserID: user, StartedAt: storeT0, UpdatedAt: storeT0, Phase: PhaseIdle}
}

func testUser(t *testing.T) id.UserID {
	t.Helper()
	u, err := id.ParseUserID("3f0a7c52-1b9e-4d2f-8c6a-5e4b3d2c1a00")
	require.NoError(t, err)
	return u
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	user := testUser(t)

	t.Run("one live session per user", func(t *testing.T) {
		store := NewInMemoryStore()
		first := newSession(user)
		require.NoError(t, store.Create(ctx, first))
		assert.ErrorIs(t, store.Create(ctx, newSession(user)), sentinel.ErrConflict)

		active, err := store.ActiveForUser(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, first.ID, active.ID)
	})

	t.Run("terminal update frees the user", func(t *testing.T) {
		store := NewInMemoryStore()
		sess := newSession(user)
		require.NoError(t, store.Create(ctx, sess))
		require.NoError(t, sess.Fail(ReasonCancelled, storeT0))
		require.NoError(t, store.Update(ctx, sess))

		_, err := store.ActiveForUser(ctx, user)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		list, err := store.ListActive(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.NoError(t, store.Create(ctx, newSession(user)))
	})

	t.Run("reads are copies", func(t *testing.T) {
		store := NewInMemoryStore()
		sess := newSession(user)
		sess.Results = []liveness.Result{{Status: liveness.StatusCompleted}}
		require.NoError(t, store.Create(ctx, sess))

		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		got.Results[0].Status = liveness.StatusTimedOut
		got.Phase = PhaseReview

		again, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, liveness.StatusCompleted, again.Results[0].Status)
		assert.Equal(t, PhaseIdle, again.Phase)
	})

	t.Run("unknown session", func(t *testing.T) {
		store := NewInMemoryStore()
		_, err := store.Get(ctx, id.NewSessionID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		assert.ErrorIs(t, store.Update(ctx, newSession(user)), sentinel.ErrNotFound)
	})
}

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhaseDocument, true},
		{PhaseIdle, PhaseLiveness, true},
		{PhaseDocument, PhaseLiveness, true},
		{PhaseLiveness, PhaseFaceScan, true},
		{PhaseLiveness, PhaseReview, true},
		{PhaseFaceScan, PhaseReview, true},
		{PhaseReview, PhaseComplete, true},
		{PhaseLiveness, PhaseFailed, true},
		{PhaseLiveness, PhaseDocument, false},
		{PhaseFaceScan, PhaseLiveness, false},
		{PhaseLiveness, PhaseComplete, false},
		{PhaseComplete, PhaseFailed, false},
		{PhaseFailed, PhaseIdle, false},
		{PhaseIdle, Phase("paused"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		percent float64
	}{
		{"idle", Session{Phase: PhaseIdle}, 0},
		{"document", Session{Phase: PhaseDocument}, 10},
		{"liveness midway", Session{Phase: PhaseLiveness, Running: true, Progress: Progress{Instruction: "Smile", Index: 2, Total: 5}}, 30},
		{"liveness done", Session{Phase: PhaseLiveness, Results: []liveness.Result{{}}}, 60},
		{"scan midway", Session{Phase: PhaseFaceScan, Running: true, Progress: Progress{Instruction: "Look up", Index: 3, Total: 6}}, 75},
		{"review", Session{Phase: PhaseReview}, 95},
		{"complete", Session{Phase: PhaseComplete}, 100},
		{"failed", Session{Phase: PhaseFailed, FailureReason: ReasonCancelled}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := StatusOf(&tt.session)
			assert.InDelta(t, tt.percent, st.ProgressPercentage, 1e-9)
			assert.NotEmpty(t, st.CurrentInstruction)
		})
	}
}
