package logging

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

func verifySetLevels(registry *Registry, expectedMatches map[string]string) bool {
	for name, level := range expectedMatches {
		logger, ok := registry.loggerNamed(name)
		if !ok || !strings.EqualFold(level, logger.GetLevel().String()) {
			return false
		}
	}
	return true
}

func createTestRegistry(loggerNames []string) *Registry {
	registry := newRegistry()
	for _, name := range loggerNames {
		registry.registerLogger(name, NewBlankLogger(name))
	}
	return registry
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		isValid bool
	}{
		{"spwf04sx", true},
		{"spwf04sx.frames", true},
		{"spwf04sx.*", true},
		{"*.frames", true},
		{"spwf04sx.*.frames", true},
		{"*", true},
		{"spwfctl-dial", true},

		{"spwf04sx..frames", false},
		{"spwf04sx.", false},
		{".spwf04sx", false},
		{"spwf04sx.**", false},
		{"_.spwf04sx", false},
		{"spwf04sx.-", false},
		{"spwf04sx:frames", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.pattern, func(t *testing.T) {
			t.Parallel()
			test.That(t, validatePattern(tc.pattern), test.ShouldEqual, tc.isValid)
		})
	}
}

func TestUpdateLoggerRegistry(t *testing.T) {
	tests := []struct {
		name            string
		loggerConfig    []LoggerPatternConfig
		loggerNames     []string
		expectedMatches map[string]string
	}{
		{
			name:         "exact",
			loggerConfig: []LoggerPatternConfig{{Pattern: "spwf04sx", Level: "WARN"}},
			loggerNames:  []string{"spwf04sx", "spwf04sx.frames", "netif"},
			expectedMatches: map[string]string{
				"spwf04sx":        "WARN",
				"spwf04sx.frames": "INFO",
				"netif":           "INFO",
			},
		},
		{
			name:         "wildcard suffix",
			loggerConfig: []LoggerPatternConfig{{Pattern: "spwf04sx.*", Level: "DEBUG"}},
			loggerNames:  []string{"spwf04sx.frames", "spwf04sx.events.dispatch"},
			expectedMatches: map[string]string{
				"spwf04sx.frames":          "DEBUG",
				"spwf04sx.events.dispatch": "DEBUG",
			},
		},
		{
			name: "later pattern wins",
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "spwf04sx.*", Level: "DEBUG"},
				{Pattern: "spwf04sx.frames", Level: "ERROR"},
			},
			loggerNames:     []string{"spwf04sx.frames"},
			expectedMatches: map[string]string{"spwf04sx.frames": "ERROR"},
		},
		{
			name:            "invalid pattern skipped",
			loggerConfig:    []LoggerPatternConfig{{Pattern: "_.*.frames", Level: "DEBUG"}},
			loggerNames:     []string{"spwf04sx.frames"},
			expectedMatches: map[string]string{"spwf04sx.frames": "INFO"},
		},
		{
			name:            "prefix is not a match",
			loggerConfig:    []LoggerPatternConfig{{Pattern: "a.b", Level: "DEBUG"}},
			loggerNames:     []string{"a.b.c"},
			expectedMatches: map[string]string{"a.b.c": "INFO"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testRegistry := createTestRegistry(tc.loggerNames)

			err := testRegistry.UpdateConfig(tc.loggerConfig, NewBlankLogger("error-logger"))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, verifySetLevels(testRegistry, tc.expectedMatches), test.ShouldBeTrue)
		})
	}
}

func TestUpdateLoggerRegistryBadLevel(t *testing.T) {
	testRegistry := createTestRegistry([]string{"spwf04sx"})
	err := testRegistry.UpdateConfig([]LoggerPatternConfig{{Pattern: "spwf04sx", Level: "loud"}}, NewBlankLogger("err"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "loud")
	test.That(t, testRegistry.getCurrentConfig(), test.ShouldBeNil)
}

func TestGetOrRegisterAppliesPatterns(t *testing.T) {
	registry := newRegistry()
	test.That(t, registry.UpdateConfig([]LoggerPatternConfig{{Pattern: "driver.*", Level: "error"}}, NewBlankLogger("err")),
		test.ShouldBeNil)

	first := registry.getOrRegister("driver.frames", NewBlankLogger("driver.frames"))
	test.That(t, first.GetLevel(), test.ShouldEqual, ERROR)

	second := registry.getOrRegister("driver.frames", NewBlankLogger("driver.frames"))
	test.That(t, second, test.ShouldEqual, first)

	test.That(t, registry.deregisterLogger("driver.frames"), test.ShouldBeTrue)
	test.That(t, registry.deregisterLogger("driver.frames"), test.ShouldBeFalse)
	test.That(t, registry.getRegisteredLoggerNames(), test.ShouldBeEmpty)
}
