// Package tester holds the small assertion helpers shared by package tests.
package tester

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Eq fails the test with a diff when got and want differ. An optional
// first msg names the case.
func Eq[T any](t testing.TB, got, want T, msg ...any) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		if len(msg) > 0 {
			t.Fatalf("%v: mismatch (-want +got):\n%s", msg[0], diff)
		}
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

// True asserts that cond is true.
func True(t testing.TB, cond bool, msg ...any) {
	t.Helper()
	if !cond {
		if len(msg) > 0 {
			t.Fatalf("%v", msg[0])
		}
		t.Fatalf("expected condition to be true")
	}
}

// False asserts that cond is false.
func False(t testing.TB, cond bool, msg ...any) {
	t.Helper()
	if cond {
		if len(msg) > 0 {
			t.Fatalf("%v", msg[0])
		}
		t.Fatalf("expected condition to be false")
	}
}

// NoErr asserts that err is nil.
func NoErr(t testing.TB, err error, msg ...any) {
	t.Helper()
	if err != nil {
		if len(msg) > 0 {
			t.Fatalf("%v: %v", msg[0], err)
		}
		t.Fatalf("unexpected error: %v", err)
	}
}
