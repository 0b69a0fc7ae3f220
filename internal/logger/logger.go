// Package logger hands out named logrus loggers ("app", "audit", "http")
// configured once at startup. File output is rotated by lumberjack.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // json, text
	Output string // stdout, file, both
	Path   string // directory for file output

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		Output:     "stdout",
		Path:       "logs",
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 7,
	}
}

var (
	mu      sync.Mutex
	cfg     = DefaultConfig()
	loggers = make(map[string]*logrus.Logger)
	closers []io.Closer
)

// Init replaces the active configuration. Loggers created earlier are rebuilt
// on their next Get.
func Init(c Config) error {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 100
	}
	if c.Output == "file" || c.Output == "both" {
		if c.Path == "" {
			c.Path = "logs"
		}
		if err := os.MkdirAll(c.Path, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = c
	loggers = make(map[string]*logrus.Logger)
	return nil
}

// Get returns the logger registered under name, creating it on first use.
func Get(name string) *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[name]; ok {
		return l
	}
	l := build(name)
	loggers[name] = l
	return l
}

// For returns an entry tagged with the component name, the usual way packages log.
func For(component string) *logrus.Entry {
	return Get("app").WithField("component", component)
}

func Audit() *logrus.Entry {
	return Get("audit").WithField("component", "audit")
}

// Close flushes and closes any rotating file writers.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closers = nil
	return firstErr
}

func build(name string) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
				logrus.FieldKeyFunc: "function",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				parts := strings.Split(f.Function, ".")
				return parts[len(parts)-1], fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		})
	}

	var writers []io.Writer
	if cfg.Output == "file" || cfg.Output == "both" {
		fw := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Path, name+".log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		closers = append(closers, fw)
		writers = append(writers, fw)
	}
	if cfg.Output != "file" {
		writers = append(writers, os.Stdout)
	}
	l.SetOutput(io.MultiWriter(writers...))
	l.SetReportCaller(level >= logrus.DebugLevel)
	return l
}
