package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultConfig(), wantErr: false},
		{name: "console format", cfg: Config{Level: "debug", Format: "console"}, wantErr: false},
		{name: "bad level", cfg: Config{Level: "loud", Format: "json"}, wantErr: true},
		{name: "bad format", cfg: Config{Level: "info", Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = New(Config{Level: "nope", Format: "json"})
	assert.Error(t, err)
}

func TestTestLoggerCaptures(t *testing.T) {
	tl := NewTestLogger()
	tl.Info("pipeline started")
	tl.Warn("fallback engaged")

	assert.Len(t, tl.All(), 2)
	tl.AssertLogged(t, zapcore.InfoLevel, "pipeline started")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "fallback")

	tl.Reset()
	assert.Empty(t, tl.All())
}
