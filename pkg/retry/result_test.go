package retry_test

import (
	"testing"

	"github.com/foiacquire/crawler/pkg/retry"
)

func TestNewSuccessResult_CarriesValueAndAttemptsWithNoError(t *testing.T) {
	r := retry.NewSuccessResult("artifact-hash", 2)

	if !r.Ok() {
		t.Fatalf("expected Ok() true, got false with err %v", r.Err())
	}
	if r.Value() != "artifact-hash" {
		t.Fatalf("expected value %q, got %q", "artifact-hash", r.Value())
	}
	if r.Attempts() != 2 {
		t.Fatalf("expected 2 attempts, got %d", r.Attempts())
	}
	if r.Err() != nil {
		t.Fatalf("expected nil error, got %v", r.Err())
	}
}
