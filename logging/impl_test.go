package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("saved", "file", "depth_1.ply")
	logger.Sublogger("display").Warn("unsupported format")
	logger.Debugf("frame %d", 3)

	test.That(t, logs.Len(), test.ShouldEqual, 3)
	entries := logs.All()
	test.That(t, entries[0].Message, test.ShouldEqual, "saved")
	test.That(t, entries[0].ContextMap()["file"], test.ShouldEqual, "depth_1.ply")
	test.That(t, entries[1].Level, test.ShouldEqual, zapcore.WarnLevel)
	test.That(t, entries[1].LoggerName, test.ShouldEqual, "display")
	test.That(t, entries[2].Message, test.ShouldEqual, "frame 3")

	test.That(t, logs.FilterMessage("saved").Len(), test.ShouldEqual, 1)
}

func TestLoggerConfigLevels(t *testing.T) {
	cfg := NewLoggerConfig()
	test.That(t, cfg.Level.Level(), test.ShouldEqual, zapcore.InfoLevel)
	test.That(t, cfg.DisableStacktrace, test.ShouldBeTrue)

	blank := NewBlankLogger("blank")
	blank.Info("dropped")
	test.That(t, blank.AsZap(), test.ShouldNotBeNil)
}
