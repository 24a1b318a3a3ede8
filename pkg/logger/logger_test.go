package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewForEnv(t *testing.T) {
	assert.NotNil(t, NewForEnv("development"))
	assert.NotNil(t, NewForEnv("production"))
	assert.NotNil(t, NewNop())
}

func TestNamedKeepsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := &Logger{zap.New(core).Sugar()}

	l.Named("bot").Infow("message handled", "chat_id", int64(42))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "bot", entries[0].LoggerName)
		assert.Equal(t, int64(42), entries[0].ContextMap()["chat_id"])
	}
}
