// Package logging provides config-driven categorized logging for mindcore.
// Each subsystem logs under its own category; categories can be toggled
// individually and the whole thing silenced for production embedding.
// The backbone is zap; the package-level helpers keep call sites terse.
package logging

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Initialization, bootstrap
	CategoryStore     Category = "store"     // Journals, registries, raw storage ops
	CategorySchema    Category = "schema"    // Bootstrap DDL, introspection
	CategoryDNA       Category = "dna"       // Schema mutations, snapshots, inverses
	CategoryCache     Category = "cache"     // LRU cache
	CategoryBloom     Category = "bloom"     // Bloom gate decisions
	CategoryVector    Category = "vector"    // Embedding storage and recall
	CategorySession   Category = "session"   // Sessions, episodes, epochs
	CategoryKnowledge Category = "knowledge" // Distillation, challenge
	CategoryRitual    Category = "ritual"    // Scheduler ticks, ritual runs
	CategoryEvolution Category = "evolution" // Pilot state machine
	CategoryMeta      Category = "meta"      // Meta-evolution controller
	CategoryPolicy    Category = "policy"    // Rules, policies, vetoes
	CategoryQuery     Category = "query"     // Capture ring, index recommendations
)

// Config controls the logging subsystem. Zero value is silent.
type Config struct {
	Enabled    bool
	Level      string // debug|info|warn|error
	File       string // empty means stderr
	Categories map[string]bool
}

// Logger is a category-scoped sugar logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	enabled  bool
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	cfg     Config
	loggers = make(map[Category]*Logger)
	nop     = &Logger{sugar: zap.NewNop().Sugar()}
)

// Initialize configures the logging backbone. Safe to call more than once;
// later calls replace the previous configuration.
func Initialize(c Config) error {
	mu.Lock()
	defer mu.Unlock()

	cfg = c
	loggers = make(map[Category]*Logger)

	if !c.Enabled {
		root = zap.NewNop()
		return nil
	}

	level := zapcore.InfoLevel
	switch c.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := zapcore.AddSync(os.Stderr)
	if c.File != "" {
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		sink = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	root = zap.New(core)
	return nil
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	if root == nil || !cfg.Enabled || !categoryEnabled(cat) {
		loggers[cat] = nop
		return nop
	}
	l := &Logger{
		category: cat,
		sugar:    root.Sugar().Named(string(cat)),
		enabled:  true,
	}
	loggers[cat] = l
	return l
}

func categoryEnabled(cat Category) bool {
	if len(cfg.Categories) == 0 {
		return true
	}
	enabled, listed := cfg.Categories[string(cat)]
	if !listed {
		return true
	}
	return enabled
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Store logs at info level under the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs at debug level under the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Timer measures the duration of a named operation and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation for performance logging.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{category: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time. Operations slower than 100ms log at warn.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > 100*time.Millisecond {
		l.Warn("%s took %s", t.op, elapsed)
		return
	}
	l.Debug("%s took %s", t.op, elapsed)
}
