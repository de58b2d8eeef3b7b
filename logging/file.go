package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogFileMaxSizeMB is the size at which a log file is rotated.
const DefaultLogFileMaxSizeMB = 64

// TeeToFile returns a logger that logs everything parent logs and also writes Debug+ logs as JSON
// lines to a rotating file at path. Close the returned io.Closer when done.
func TeeToFile(parent Logger, path string, maxSizeMB int) (Logger, io.Closer) {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultLogFileMaxSizeMB
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 2,
		Compress:   true,
	}

	encCfg := NewLoggerConfig().EncoderConfig
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zapcore.DebugLevel)

	teed := parent.AsZap().Desugar().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
	return &impl{teed.Sugar()}, w
}
