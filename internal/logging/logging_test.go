package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledLoggerIsNop(t *testing.T) {
	log := New(Options{Enabled: false})
	assert.NotNil(t, log)
	log.Info("should not panic")
}

func TestEnabledLoggerWithoutQueueWrites(t *testing.T) {
	log := New(Options{Enabled: true, Level: LevelInfo})
	assert.NotNil(t, log)
	log.Info("hello")
	log.Sync()
}

func TestEnabledLoggerWithBoundedQueueDoesNotBlock(t *testing.T) {
	log := New(Options{Enabled: true, Level: LevelDebug, LogQueueSize: 4})
	for i := 0; i < 100; i++ {
		log.Info("burst")
	}
}

func TestLevelMappingCoversAllLevels(t *testing.T) {
	levels := []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}
	for _, l := range levels {
		assert.NotPanics(t, func() { l.zapLevel() })
	}
}
