// Package logutil adapts logrus loggers to the loggers.Advanced interface
// used throughout this module, mirroring the logging discipline of the
// upstream schema-change engine this module was forked from.
package logutil

import (
	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"
)

// NewLogrusLogger wraps a *logrus.Logger so it satisfies loggers.Advanced.
func NewLogrusLogger(l *logrus.Logger) loggers.Advanced {
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

// NewDefaultLogger returns a text-formatted logrus logger at Info level,
// suitable as the zero-configuration default for Backup/Restore callers
// that do not supply their own logger.
func NewDefaultLogger() loggers.Advanced {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return NewLogrusLogger(l)
}

type logrusAdapter struct {
	entry *logrus.Entry
}

func (a *logrusAdapter) Fatal(args ...interface{})                 { a.entry.Fatal(args...) }
func (a *logrusAdapter) Fatalf(format string, args ...interface{}) { a.entry.Fatalf(format, args...) }
func (a *logrusAdapter) Print(args ...interface{})                 { a.entry.Print(args...) }
func (a *logrusAdapter) Printf(format string, args ...interface{}) { a.entry.Printf(format, args...) }
func (a *logrusAdapter) Println(args ...interface{})               { a.entry.Println(args...) }
func (a *logrusAdapter) Debug(args ...interface{})                  { a.entry.Debug(args...) }
func (a *logrusAdapter) Debugf(format string, args ...interface{})  { a.entry.Debugf(format, args...) }
func (a *logrusAdapter) Info(args ...interface{})                   { a.entry.Info(args...) }
func (a *logrusAdapter) Infof(format string, args ...interface{})   { a.entry.Infof(format, args...) }
func (a *logrusAdapter) Warn(args ...interface{})                   { a.entry.Warn(args...) }
func (a *logrusAdapter) Warnf(format string, args ...interface{})   { a.entry.Warnf(format, args...) }
func (a *logrusAdapter) Error(args ...interface{})                  { a.entry.Error(args...) }
func (a *logrusAdapter) Errorf(format string, args ...interface{})  { a.entry.Errorf(format, args...) }
