package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gostudio/internal/config"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	t.Cleanup(func() { versionInfo = orig })

	SetVersionInfo("1.2.3", "abc1234", "2026-08-20")
	assert.Equal(t, "1.2.3", versionInfo.Version)
	assert.Equal(t, "abc1234", versionInfo.Commit)
	assert.Equal(t, "2026-08-20", versionInfo.BuildDate)

	SetVersionInfo("", "", "")
	assert.Empty(t, versionInfo.Version)
	assert.Empty(t, versionInfo.Commit)
	assert.Empty(t, versionInfo.BuildDate)
}

func TestGetAppIdentity(t *testing.T) {
	orig := appIdentity
	t.Cleanup(func() { appIdentity = orig })

	appIdentity = nil
	assert.Nil(t, GetAppIdentity())

	appIdentity = config.DefaultIdentity()
	require.NotNil(t, GetAppIdentity())
	assert.Equal(t, appIdentity, GetAppIdentity())
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		setDefaults()
	})

	setDefaults()

	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, "30s", viper.GetString("server.read_timeout"))
	assert.Equal(t, "30s", viper.GetString("server.write_timeout"))
	assert.Equal(t, "120s", viper.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))

	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	assert.Equal(t, "http://127.0.0.1:8188", viper.GetString("engine.url"))
	assert.Equal(t, 10, viper.GetInt("engine.requests_per_second"))
	assert.Equal(t, "60s", viper.GetString("engine.http_timeout"))
	assert.Equal(t, "http://127.0.0.1:3000", viper.GetString("tracker.url"))
	assert.Equal(t, "30s", viper.GetString("tracker.http_timeout"))

	assert.Equal(t, "2s", viper.GetString("runner.poll_interval"))
	assert.Equal(t, "300s", viper.GetString("runner.poll_timeout"))
	assert.Equal(t, 20, viper.GetInt("feed.limit"))
	assert.Equal(t, "10s", viper.GetString("feed.refresh_interval"))

	assert.Equal(t, 3, viper.GetInt("workers"))
	assert.False(t, viper.GetBool("readonly"))
}
