package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *logrus.Logger

// Options controls logger construction. Zero value logs JSON at info level to stdout.
type Options struct {
	Level  string
	Format string // "json" or "text"
	File   string // optional rotating log file, written in addition to stdout
}

var logFile *lumberjack.Logger

func Init(level string) {
	InitWithOptions(Options{Level: level})
}

func InitWithOptions(opts Options) {
	Logger = logrus.New()

	var out io.Writer = os.Stdout
	if opts.File != "" {
		logFile = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = io.MultiWriter(os.Stdout, logFile)
	}
	Logger.SetOutput(out)

	switch opts.Format {
	case "text":
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	default:
		Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	logLevel, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Logger.SetLevel(logLevel)
}

// Close flushes and closes the rotating log file, if any.
func Close() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// WithFields returns an entry carrying fields. Safe to call before Init.
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l.WithFields(fields)
	}
	return Logger.WithFields(fields)
}

// Convenience functions
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// Fatal logs and exits, initializing a default logger if Init has not run.
func Fatal(args ...interface{}) {
	if Logger == nil {
		Init("info")
	}
	Logger.Fatal(args...)
}

func Fatalf(format string, args ...interface{}) {
	if Logger == nil {
		Init("info")
	}
	Logger.Fatalf(format, args...)
}
