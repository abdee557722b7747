package transport

import (
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/sirupsen/logrus"
)

// LoggerAdapter adapts logrus to the logger interface the gosip parser
// expects. Parser internals are noisy, so the backing logger defaults to
// warn level; protocol-level logging happens through slog in the gateway.
type LoggerAdapter struct {
	entry *logrus.Entry
}

// NewLoggerAdapter creates an adapter over a dedicated logrus instance.
func NewLoggerAdapter() *LoggerAdapter {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return &LoggerAdapter{entry: logrus.NewEntry(l)}
}

func (la *LoggerAdapter) Fields() gosiplog.Fields {
	return gosiplog.Fields{}
}

func (la *LoggerAdapter) WithFields(fields map[string]interface{}) gosiplog.Logger {
	return &LoggerAdapter{entry: la.entry.WithFields(fields)}
}

func (la *LoggerAdapter) Prefix() string {
	return ""
}

func (la *LoggerAdapter) WithPrefix(prefix string) gosiplog.Logger {
	return la
}

func (la *LoggerAdapter) Print(args ...interface{}) {
	la.entry.Print(args...)
}

func (la *LoggerAdapter) Printf(format string, args ...interface{}) {
	la.entry.Printf(format, args...)
}

func (la *LoggerAdapter) Trace(args ...interface{}) {
	la.entry.Trace(args...)
}

func (la *LoggerAdapter) Tracef(format string, args ...interface{}) {
	la.entry.Tracef(format, args...)
}

func (la *LoggerAdapter) Debug(args ...interface{}) {
	la.entry.Debug(args...)
}

func (la *LoggerAdapter) Debugf(format string, args ...interface{}) {
	la.entry.Debugf(format, args...)
}

func (la *LoggerAdapter) Info(args ...interface{}) {
	la.entry.Info(args...)
}

func (la *LoggerAdapter) Infof(format string, args ...interface{}) {
	la.entry.Infof(format, args...)
}

func (la *LoggerAdapter) Warn(args ...interface{}) {
	la.entry.Warn(args...)
}

func (la *LoggerAdapter) Warnf(format string, args ...interface{}) {
	la.entry.Warnf(format, args...)
}

func (la *LoggerAdapter) Error(args ...interface{}) {
	la.entry.Error(args...)
}

func (la *LoggerAdapter) Errorf(format string, args ...interface{}) {
	la.entry.Errorf(format, args...)
}

func (la *LoggerAdapter) Fatal(args ...interface{}) {
	la.entry.Fatal(args...)
}

func (la *LoggerAdapter) Fatalf(format string, args ...interface{}) {
	la.entry.Fatalf(format, args...)
}

func (la *LoggerAdapter) Panic(args ...interface{}) {
	la.entry.Panic(args...)
}

func (la *LoggerAdapter) Panicf(format string, args ...interface{}) {
	la.entry.Panicf(format, args...)
}

func (la *LoggerAdapter) SetLevel(level uint32) {
	la.entry.Logger.SetLevel(logrus.Level(level))
}
