package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func Test_Sync_UncorrectedBeforeFirstUpdate(t *testing.T) {
	local := &fakeClock{now: time.UnixMilli(1_000_000)}
	s := NewSync(local.Now)

	require.Equal(t, local.now, s.Now())
	_, synced := s.Offset()
	require.False(t, synced)
}

func Test_Sync_OffsetApplied(t *testing.T) {
	local := &fakeClock{now: time.UnixMilli(1_000_000)}
	s := NewSync(local.Now)

	// Local clock runs 4s ahead of the server
	s.Update(996_000)
	offset, synced := s.Offset()
	require.True(t, synced)
	require.Equal(t, 4*time.Second, offset)
	require.Equal(t, int64(996_000), s.Now().UnixMilli())

	local.now = local.now.Add(1500 * time.Millisecond)
	require.Equal(t, int64(997_500), s.Now().UnixMilli())
}

func Test_Sync_LatestSampleWins(t *testing.T) {
	local := &fakeClock{now: time.UnixMilli(1_000_000)}
	s := NewSync(local.Now)

	s.Update(990_000)
	s.Update(1_005_000)

	offset, _ := s.Offset()
	require.Equal(t, -5*time.Second, offset)
	require.Equal(t, int64(1_005_000), s.Now().UnixMilli())

	// A server-side clock jump back is reflected immediately
	s.Update(900_000)
	require.Equal(t, int64(900_000), s.Now().UnixMilli())
}

func Test_Sync_IgnoresInvalidTimestamp(t *testing.T) {
	local := &fakeClock{now: time.UnixMilli(1_000_000)}
	s := NewSync(local.Now)

	s.Update(0)
	_, synced := s.Offset()
	require.False(t, synced)

	s.Update(999_000)
	s.Reset()
	require.Equal(t, local.now, s.Now())
}
