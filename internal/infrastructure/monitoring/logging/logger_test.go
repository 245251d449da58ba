package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func newBufferedLogger(t *testing.T) (Logger, *zaptest.Buffer) {
	t.Helper()
	buf := &zaptest.Buffer{}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), buf, zapcore.DebugLevel)
	return NewLoggerFromCore(core), buf
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatConsole, ""} {
		l, err := NewLogger(LogConfig{Level: LevelInfo, Format: format, OutputPaths: []string{"stdout"}})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_EmptyOutputPaths(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestNewDevelopmentLogger_NotNil(t *testing.T) {
	assert.NotNil(t, NewDevelopmentLogger())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("msg")
	l.Info("msg")
	l.Warn("msg")
	l.Error("msg")
	assert.Equal(t, l, l.With(String("k", "v")))
	assert.Equal(t, l, l.Named("child"))
	assert.NoError(t, l.Sync())
}

func TestZapLogger_Levels(t *testing.T) {
	l, buf := newBufferedLogger(t)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	out := buf.String()
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"level":"error"`)
}

func TestZapLogger_TypedFields(t *testing.T) {
	l, buf := newBufferedLogger(t)
	l.With(String(FieldEncoder, "resnet50")).Info("loaded",
		Int("classes", 3),
		Float64("confidence", 0.9),
		Bool("fallback", true),
		Duration("elapsed", 1500*time.Millisecond),
		Strings("names", []string{"a", "b"}),
		Err(errors.New("boom")),
	)

	out := buf.String()
	assert.Contains(t, out, `"encoder":"resnet50"`)
	assert.Contains(t, out, `"classes":3`)
	assert.Contains(t, out, `"confidence":0.9`)
	assert.Contains(t, out, `"fallback":true`)
	assert.Contains(t, out, `"names":["a","b"]`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestZapLogger_Named(t *testing.T) {
	l, buf := newBufferedLogger(t)
	l.Named("micronet").Named("acquire").Warn("tier failed")
	assert.Contains(t, buf.String(), `"logger":"micronet.acquire"`)
}

func TestErr_Nil(t *testing.T) {
	assert.Equal(t, "<nil>", Err(nil).Value)
}

func TestDefault_SetAndGet(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	l := NewDevelopmentLogger()
	SetDefault(l)
	assert.Equal(t, l, Default())

	SetDefault(nil)
	assert.Equal(t, l, Default())
}

func TestSetLevel(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelInfo, OutputPaths: []string{"stdout"}})
	require.NoError(t, err)
	child := l.Named("worker")
	zl := child.(*zapLogger)
	assert.False(t, zl.z.Core().Enabled(zapcore.DebugLevel))

	assert.True(t, SetLevel(l, LevelDebug))
	assert.True(t, zl.z.Core().Enabled(zapcore.DebugLevel))

	core, _ := newBufferedLogger(t)
	assert.False(t, SetLevel(core, LevelDebug))
	assert.False(t, SetLevel(NewNopLogger(), LevelDebug))
}
