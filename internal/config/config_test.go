package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 1316, cfg.Port)
	assert.Equal(t, 3, cfg.TrigMode)
	assert.Equal(t, 60000, cfg.TimeoutMs)
	assert.Equal(t, 8, cfg.ThreadNum)
	assert.True(t, cfg.OpenLog)
}

func TestParseOverridesFromArgs(t *testing.T) {
	cfg, err := Parse([]string{"-port=9000", "-thread-num=4", "-timeout-ms=0", "-open-log=false"})
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 4, cfg.ThreadNum)
	assert.Equal(t, 0, cfg.TimeoutMs)
	assert.False(t, cfg.OpenLog)
}

func TestParseRejectsOutOfRangePort(t *testing.T) {
	_, err := Parse([]string{"-port=80"})
	assert.Error(t, err)
}

func TestReactorConfigProjection(t *testing.T) {
	cfg, err := Parse([]string{"-port=2000", "-src-dir=/srv/www"})
	require.NoError(t, err)
	rc := cfg.ReactorConfig()
	assert.Equal(t, 2000, rc.Port)
	assert.Equal(t, "/srv/www", rc.SrcDir)
}

func TestLoggingOptionsProjection(t *testing.T) {
	cfg, err := Parse([]string{"-log-level=2", "-log-queue-size=0"})
	require.NoError(t, err)
	opts := cfg.LoggingOptions()
	assert.Equal(t, 2, int(opts.Level))
	assert.Equal(t, 0, opts.LogQueueSize)
}
