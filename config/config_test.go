package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/drop-engine/access"
	"github.com/itiky/drop-engine/model"
)

func Test_Config_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "http://127.0.0.1:2412/api/drops", cfg.Engine.BaseURL)
	require.Equal(t, 3500*time.Millisecond, cfg.Engine.StatePeriod)
	require.Equal(t, 30*time.Second, cfg.Engine.OnlinePeriod)
	require.Equal(t, 250*time.Millisecond, cfg.Engine.RenderPeriod)
	require.False(t, cfg.Engine.DefaultEnabled)
	require.Equal(t, []model.GroupId{1}, cfg.Access.AdminGroups)
	require.Empty(t, cfg.Access.AllowedGroups)
	require.Equal(t, "sqlite", cfg.Toggle.Backend)
	require.Equal(t, "localhost:6379", cfg.Redis.Address())
	require.Equal(t, ":2412", cfg.Server.Address())
	require.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func Test_Config_Env(t *testing.T) {
	t.Setenv("DROPS_STATE_PERIOD", "1s")
	t.Setenv("DROPS_DEFAULT_ENABLED", "true")
	t.Setenv("ACCESS_ALLOWED_GROUPS", "4,5")
	t.Setenv("ACCESS_ADMIN_USERS", "2")
	t.Setenv("ACCESS_ALLOWED_FORUMS", "10")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, time.Second, cfg.Engine.StatePeriod)
	require.True(t, cfg.Engine.DefaultEnabled)

	policy := cfg.Access.Policy()
	require.True(t, policy.IsEligible(access.Identity{UserId: 10, GroupId: 4}))
	require.False(t, policy.IsEligible(access.Identity{UserId: 10, GroupId: 6}))
	require.True(t, policy.IsAdmin(access.Identity{UserId: 2, GroupId: 6}))
	require.True(t, policy.InScope(model.Page{ForumId: 10}))
	require.False(t, policy.InScope(model.Page{ForumId: 11}))

	t.Setenv("DROPS_STATE_PERIOD", "soon")
	_, err = Load()
	require.Error(t, err)
}

func Test_Config_Logger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
}
