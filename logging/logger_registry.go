package logging

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

var globalLoggerRegistry = newRegistry()

// Registry tracks named loggers so that level patterns can be applied to them after creation.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

func (lr *Registry) deregisterLogger(name string) bool {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	_, ok := lr.loggers[name]
	if ok {
		delete(lr.loggers, name)
	}
	return ok
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// levelFor returns the level the last matching pattern assigns to name. Must hold lr.mu.
func (lr *Registry) levelFor(name string) (Level, bool, error) {
	var (
		level   Level
		matched bool
	)
	for _, lpc := range lr.logConfig {
		if !validatePattern(lpc.Pattern) {
			continue
		}
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return level, false, err
		}
		if !r.MatchString(name) {
			continue
		}
		if level, err = LevelFromString(lpc.Level); err != nil {
			return level, false, err
		}
		matched = true
	}
	return level, matched, nil
}

// UpdateConfig installs a new set of patterns and re-levels every registered logger. Loggers not
// matched by any pattern go back to INFO. Invalid patterns are reported to errorLogger and skipped.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	for _, lpc := range logConfig {
		if !validatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
		}
		if _, err := LevelFromString(lpc.Level); err != nil {
			return errors.Wrapf(err, "pattern %q", lpc.Pattern)
		}
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = logConfig
	for name, logger := range lr.loggers {
		level, ok, err := lr.levelFor(name)
		if err != nil {
			return err
		}
		if !ok {
			level = INFO
		}
		logger.SetLevel(level)
	}

	return nil
}

func (lr *Registry) getRegisteredLoggerNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	registeredNames := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		registeredNames = append(registeredNames, name)
	}
	return registeredNames
}

func (lr *Registry) getCurrentConfig() []LoggerPatternConfig {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	return lr.logConfig
}

// getOrRegister will either return the existing logger for `name` or register `logger` under that
// name and level it according to the current patterns. Concurrent callers all get the winner's
// logger.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existingLogger, ok := lr.loggers[name]; ok {
		return existingLogger
	}

	lr.loggers[name] = logger
	if level, ok, err := lr.levelFor(name); err == nil && ok {
		logger.SetLevel(level)
	}
	return logger
}

// register installs `logger` under `name`, replacing any earlier logger with that name, and levels
// it according to the current patterns.
func (lr *Registry) register(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	if level, ok, err := lr.levelFor(name); err == nil && ok {
		logger.SetLevel(level)
	}
	return logger
}

// UpdateLoggerLevels applies logger level patterns to every logger created through NewLogger or
// Sublogger, now and in the future.
func UpdateLoggerLevels(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalLoggerRegistry.UpdateConfig(logConfig, errorLogger)
}

// RegisteredLoggerNames returns the names of all registered loggers, in no particular order.
func RegisteredLoggerNames() []string {
	return globalLoggerRegistry.getRegisteredLoggerNames()
}
