// Root logger construction: console + rotated log file, with a level threshold
package mblog

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/mongos3backup/pkg/mbconfig"
	"github.com/juju/lumberjack/v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning", "error":
		return LevelError, nil
	default:
		return LevelInfo, &mbconfig.ConfigurationError{Reason: fmt.Sprintf("%s: unknown level %q", mbconfig.EnvLogLevel, level)}
	}
}

// levels below the threshold are written nowhere. the threshold travels with the
// logger, so Levels() must be used instead of logex.Levels()
type Logger struct {
	*log.Logger
	threshold Level
	closer    io.Closer
}

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func New(conf mbconfig.LogConfig) (*Logger, error) {
	threshold, err := ParseLevel(conf.Level)
	if err != nil {
		return nil, err
	}

	if conf.File == "" {
		return NewWithWriter(os.Stderr, threshold), nil
	}

	logFile := &lumberjack.Logger{
		Filename:   conf.File,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
	}

	logger := NewWithWriter(io.MultiWriter(os.Stderr, logFile), threshold)
	logger.closer = logFile

	return logger, nil
}

func NewWithWriter(sink io.Writer, threshold Level) *Logger {
	return &Logger{
		Logger:    log.New(sink, "", log.LstdFlags|log.LUTC),
		threshold: threshold,
	}
}

var discard = log.New(ioutil.Discard, "", 0)

// like logex.Levels(logex.Prefix(prefix, logger)), honoring the threshold
func Levels(prefix string, logger *Logger) *logex.Leveled {
	logl := logex.Levels(logex.Prefix(prefix, logger.Logger))

	if logger.threshold > LevelDebug {
		logl.Debug = discard
	}
	if logger.threshold > LevelInfo {
		logl.Info = discard
	}

	return logl
}
