// Package logger is the node-wide logging facade. It wraps a single logrus
// logger so that call sites stay as short as logger.Infof(...).
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel is the verbosity understood by SetLevel.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARNING:
		return "warning"
	case ERROR:
		return "error"
	case FATAL:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel maps a config string to a LogLevel. Unknown strings yield INFO
// and ok=false.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return DEBUG, true
	case "info":
		return INFO, true
	case "warn", "warning":
		return WARNING, true
	case "error":
		return ERROR, true
	case "fatal":
		return FATAL, true
	default:
		return INFO, false
	}
}

var (
	mu  sync.RWMutex
	log = newLogrus(os.Stderr)
)

func newLogrus(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	return l
}

func toLogrus(level LogLevel) logrus.Level {
	switch level {
	case DEBUG:
		return logrus.DebugLevel
	case WARNING:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	case FATAL:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// GetLogger returns the underlying logrus logger.
func GetLogger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLevel changes the minimum level that is written.
func SetLevel(level LogLevel) {
	GetLogger().SetLevel(toLogrus(level))
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(out io.Writer) {
	GetLogger().SetOutput(out)
}

// SetJSON switches between the text and JSON formatters.
func SetJSON(enabled bool) {
	if enabled {
		GetLogger().SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return
	}
	GetLogger().SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
}

// WithFields starts an entry carrying structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

func Debug(args ...interface{})                 { GetLogger().Debug(args...) }
func Debugf(format string, args ...interface{}) { GetLogger().Debugf(format, args...) }
func Info(args ...interface{})                  { GetLogger().Info(args...) }
func Infof(format string, args ...interface{})  { GetLogger().Infof(format, args...) }
func Warning(args ...interface{})               { GetLogger().Warn(args...) }
func Warningf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}
func Error(args ...interface{})                 { GetLogger().Error(args...) }
func Errorf(format string, args ...interface{}) { GetLogger().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { GetLogger().Fatalf(format, args...) }

// LogBlockEvent records a block being appended to the chain.
func LogBlockEvent(index uint64, hash string, dataLen int, nonce uint64) {
	WithFields(logrus.Fields{
		"event":   "block_appended",
		"index":   index,
		"hash":    hash,
		"dataLen": dataLen,
		"nonce":   nonce,
	}).Info("Block appended")
}

// LogRoundEvent records the outcome of one mining round.
func LogRoundEvent(height uint64, outcome string, workers int, elapsed time.Duration) {
	WithFields(logrus.Fields{
		"event":   "mining_round",
		"height":  height,
		"outcome": outcome,
		"workers": workers,
		"elapsed": elapsed.String(),
	}).Info("Mining round finished")
}
