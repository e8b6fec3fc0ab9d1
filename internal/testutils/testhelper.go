// Package testutils provides mock transport implementations and helpers for
// exercising the desk session without Bluetooth hardware.
package testutils

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *logrustest.Hook
}

// NewTestHelper creates a test helper with a hooked logger so tests can
// assert on emitted log entries without writing to stderr.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // capture debug entries to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// WarningsContaining returns captured warning-or-worse messages containing
// the given substring.
func (h *TestHelper) WarningsContaining(substr string) []string {
	var matches []string
	for _, entry := range h.Hook.AllEntries() {
		if entry.Level > logrus.WarnLevel {
			continue
		}
		if strings.Contains(entry.Message, substr) {
			matches = append(matches, entry.Message)
		}
	}
	return matches
}
