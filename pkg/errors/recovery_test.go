package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestRecover_WithPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "MLPRegressor.PredictRow")
		panic("index out of range")
	}

	err := testFunc()

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}
	if panicErr.Operation != "MLPRegressor.PredictRow" {
		t.Errorf("Operation = %q", panicErr.Operation)
	}
	if panicErr.StackTrace == "" {
		t.Error("Expected non-empty stack trace")
	}
	if want := "panic in MLPRegressor.PredictRow: index out of range"; panicErr.Error() != want {
		t.Errorf("Error() = %q, want %q", panicErr.Error(), want)
	}
}

func TestRecover_WithoutPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "op")
		return nil
	}
	if err := testFunc(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestRecover_KeepsExistingError(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "op")
		err = ErrEmptyData
		panic("after error")
	}

	err := testFunc()
	if !Is(err, ErrEmptyData) {
		t.Errorf("original error should remain in the chain: %v", err)
	}
	if !strings.Contains(err.Error(), "panic in op") {
		t.Errorf("message should mention the panic: %v", err)
	}
}

func TestSafeExecute(t *testing.T) {
	err := SafeExecute("forward", func() error {
		var weights []float64
		_ = weights[3]
		return nil
	})
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %v", err)
	}

	want := New("plain failure")
	if got := SafeExecute("forward", func() error { return want }); got != want {
		t.Errorf("SafeExecute should pass through errors, got %v", got)
	}
}
