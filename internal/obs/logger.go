// Package obs provides the ambient logging, metrics and tracing surface
// shared by the director core and its cmd/ entry points.
package obs

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a zap logger at the given level. When logFile is
// non-empty, output is sent to a lumberjack-rotated file instead of stderr.
func NewLogger(level, logFile string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encCfg)

	var sink zapcore.WriteSyncer
	if logFile != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.Encoding = "json"
		return cfg.Build()
	}

	core := zapcore.NewCore(encoder, sink, lvl)
	return zap.New(core), nil
}

// Convenience typed fields, kept so call sites read the same as the rest
// of the ambient stack regardless of which zap version is in play.
func String(k, v string) zap.Field    { return zap.String(k, v) }
func Int(k string, v int) zap.Field   { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field         { return zap.Error(err) }
