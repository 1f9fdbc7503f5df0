// Package tassert is a minimal assertion helper for plain testing.T
// tests, in the shape aistore's own tools/tassert package takes: a
// handful of free functions that call t.Fatalf/t.Errorf with a
// consistent "expected/actual" message rather than a full matcher
// library, for the tests that don't warrant ginkgo/gomega's BDD style.
package tassert

import "testing"

// Fatal fails the test immediately if cond is false.
func Fatal(t *testing.T, cond bool, msg string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(msg, args...)
	}
}

// Errorf records a failure without stopping the test if cond is false.
func Errorf(t *testing.T, cond bool, msg string, args ...any) {
	t.Helper()
	if !cond {
		t.Errorf(msg, args...)
	}
}

// CheckFatal fails the test immediately if err is non-nil.
func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// CheckError records a failure without stopping the test if err is non-nil.
func CheckError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
