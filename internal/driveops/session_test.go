package driveops

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kib320 = 327680

func TestPlanChunks_PartialLastChunk(t *testing.T) {
	plan := PlanChunks(1_000_000, kib320, 0)
	require.Len(t, plan, 4)

	assert.Equal(t, ChunkRange{Index: 0, Start: 0, End: 327679}, plan[0])
	assert.Equal(t, ChunkRange{Index: 1, Start: 327680, End: 655359}, plan[1])
	assert.Equal(t, ChunkRange{Index: 2, Start: 655360, End: 983039}, plan[2])
	assert.Equal(t, ChunkRange{Index: 3, Start: 983040, End: 999999}, plan[3])
	assert.Equal(t, int64(16960), plan[3].Len())
}

func TestPlanChunks_ExactMultiple(t *testing.T) {
	plan := PlanChunks(2*kib320, kib320, 0)
	require.Len(t, plan, 2)
	assert.Equal(t, int64(kib320), plan[1].Len(), "zero remainder means a full last chunk")
}

func TestPlanChunks_CoversFileWithoutGapsOrOverlap(t *testing.T) {
	for _, total := range []int64{1, kib320 - 1, kib320, kib320 + 1, 7*kib320 + 12345} {
		for _, size := range []int64{kib320, 3 * kib320} {
			plan := PlanChunks(total, size, 0)

			var next, sum int64
			for i, r := range plan {
				assert.Equal(t, next, r.Start)
				assert.Equal(t, int64(i), r.Index)

				if i < len(plan)-1 {
					assert.Equal(t, size, r.Len())
				}

				next = r.End + 1
				sum += r.Len()
			}

			assert.Equal(t, total, sum)
		}
	}
}

func TestPlanChunks_FromOffset(t *testing.T) {
	plan := PlanChunks(1_000_000, kib320, 655360)
	require.Len(t, plan, 2)
	assert.Equal(t, int64(2), plan[0].Index)
	assert.Equal(t, int64(655360), plan[0].Start)
	assert.Equal(t, int64(999999), plan[1].End)
}

func TestPlanChunks_Degenerate(t *testing.T) {
	assert.Empty(t, PlanChunks(0, kib320, 0))
	assert.Empty(t, PlanChunks(100, kib320, 100))
	assert.Empty(t, PlanChunks(100, 0, 0))
}

func TestSessionTransitions(t *testing.T) {
	s := newSession("a.mkv", 10, kib320)
	assert.Equal(t, StateCreated, s.State())

	assert.ErrorIs(t, s.transition(StateUploading), ErrInvalidTransition)
	require.NoError(t, s.transition(StateSessionOpened))
	require.NoError(t, s.transition(StateUploading))
	require.NoError(t, s.transition(StateUploading))
	require.NoError(t, s.transition(StateCompleted))

	for _, to := range []State{StateUploading, StateFailed, StateCancelled, StateSessionOpened} {
		assert.ErrorIs(t, s.transition(to), ErrInvalidTransition, "nothing leaves a terminal state")
	}
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateUploading.Terminal())
	assert.Equal(t, "session_opened", StateSessionOpened.String())
}

func TestSessionAdvanceIsMonotonic(t *testing.T) {
	s := newSession("a", 100, kib320)
	s.advance(50)
	s.advance(20)
	assert.Equal(t, int64(50), s.Offset())
}

func TestReopenSession(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := ReopenSession("https://up/x", "a.mkv", 1_000_000, kib320, 327680, exp)
	require.NoError(t, err)
	assert.Equal(t, StateSessionOpened, s.State())
	assert.Equal(t, int64(327680), s.Offset())
	assert.Equal(t, exp, s.ExpiresAt)

	_, err = ReopenSession("u", "a", 100, 1000, 0, exp)
	assert.Error(t, err, "chunk size must be 320 KiB aligned")

	_, err = ReopenSession("u", "a", 100, kib320, 101, exp)
	assert.Error(t, err)
}
