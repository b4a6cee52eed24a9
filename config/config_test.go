package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "subvoyager", cfg.App.Name)
	assert.Equal(t, "India", cfg.App.DefaultCountry)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.App.Debug)

	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.True(t, cfg.Redis.BreakerEnabled)
	assert.Equal(t, 10*time.Second, cfg.Redis.BreakerOpenTimeout)
	assert.Equal(t, 9091, cfg.Observability.WorkerMetricsPort)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, "X-Username", cfg.HTTP.UserHeader)
	assert.Equal(t, int64(10<<20), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)

	assert.Equal(t, time.Hour, cfg.Scheduler.ReconcileIndexesInterval)
	assert.NotNil(t, cfg.Features)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_DEFAULT_COUNTRY", "Nepal")
	t.Setenv("REDIS_URL", "redis://cache:6380/2")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("HTTP_RATE_LIMIT_RPS", "2.5")
	t.Setenv("SCHEDULER_LEADERBOARD_INTERVAL", "30s")
	t.Setenv("SCHEDULER_RECONCILE_CRON", "*/10 * * * *")
	t.Setenv("REDIS_BREAKER_FAILURES", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Nepal", cfg.App.DefaultCountry)
	assert.Equal(t, "redis://cache:6380/2", cfg.Redis.StoreConfig().URL)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.HTTP.RateLimitRPS)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.RebuildLeaderboardInterval)
	assert.Equal(t, "*/10 * * * *", cfg.Scheduler.ReconcileIndexesCron)
	assert.Equal(t, 3, cfg.Redis.BreakerFailures)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("SCHEDULER_JOB_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.JobTimeout)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("REDIS_DB", "16")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "HTTP_PORT must be 1-65535")
	assert.Contains(t, msg, "REDIS_DB must be 0-15")
	assert.Contains(t, msg, "HTTP_ADMIN_API_KEYS is required in production")
}

func TestRedisConfig_StoreConfig(t *testing.T) {
	rc := RedisConfig{
		Host:        "redis.internal",
		Port:        6390,
		DB:          3,
		PoolSize:    20,
		MaxRetries:  1,
		DialTimeout: time.Second,
	}

	sc := rc.StoreConfig()
	assert.Equal(t, "redis.internal:6390", sc.Addr())
	assert.Equal(t, 3, sc.DB)
	assert.Equal(t, 20, sc.PoolSize)
	assert.Equal(t, 1, sc.MaxRetries)
	assert.Equal(t, time.Second, sc.DialTimeout)
}

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureModerationAutoApprove, nil))
	assert.True(t, ff.IsEnabled(FeatureExpeditionsNearby, nil))
	assert.True(t, ff.IsEnabled(FeatureExpeditionsSearch, nil))
	assert.True(t, ff.IsEnabled(FeatureLeaderboardCity, nil))
	assert.False(t, ff.IsEnabled("unknown.flag", nil))
}

func TestFeatureFlags_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FEATURE_MODERATION_AUTO_APPROVE", "true")
	t.Setenv("FEATURE_LEADERBOARD_CITY", "0")

	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureModerationAutoApprove, nil))
	assert.False(t, ff.IsEnabled(FeatureLeaderboardCity, nil))
}

func TestFeatureFlags_UserOverridesAndAdmins(t *testing.T) {
	ff := NewFeatureFlags()

	ff.SetUserOverride("ravi", FeatureModerationAutoApprove, true)
	assert.True(t, ff.IsEnabled(FeatureModerationAutoApprove, &FeatureContext{Username: "ravi"}))
	assert.False(t, ff.IsEnabled(FeatureModerationAutoApprove, &FeatureContext{Username: "asha"}))
	assert.True(t, ff.IsEnabled(FeatureModerationAutoApprove, &FeatureContext{Username: "asha", IsAdmin: true}))

	ff.ClearUserOverrides("ravi")
	assert.False(t, ff.IsEnabled(FeatureModerationAutoApprove, &FeatureContext{Username: "ravi"}))
}

func TestFeatureFlags_RolloutIsStablePerUser(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureExpeditionsNearby, 50))

	ctx := &FeatureContext{Username: "meera"}
	first := ff.IsEnabled(FeatureExpeditionsNearby, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureExpeditionsNearby, ctx))
	}

	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureExpeditionsNearby, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.EnableFeature("missing"), ErrFeatureNotFound)

	require.NoError(t, ff.DisableFeature(FeatureExpeditionsNearby))
	assert.False(t, ff.IsEnabled(FeatureExpeditionsNearby, ctx))
}

func TestFeatureFlags_GetAllFeaturesSorted(t *testing.T) {
	all := NewFeatureFlags().GetAllFeatures()
	require.Len(t, all, 4)
	assert.Equal(t, FeatureExpeditionsNearby, all[0].Name)
	assert.Equal(t, FeatureModerationAutoApprove, all[3].Name)
}

func TestFeatureNameToEnvKey(t *testing.T) {
	assert.Equal(t, "FEATURE_LEADERBOARD_CITY", featureNameToEnvKey(FeatureLeaderboardCity))
}
