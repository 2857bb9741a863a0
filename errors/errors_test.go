package errors

import (
	"fmt"
	"testing"
)

func TestGroveError(t *testing.T) {
	// Test basic error creation
	err := New(ErrCodeJobConflict, "job running")
	if err.Code != ErrCodeJobConflict {
		t.Errorf("expected code %s, got %s", ErrCodeJobConflict, err.Code)
	}

	// Test error wrapping
	cause := fmt.Errorf("underlying error")
	wrapped := Wrap(cause, ErrCodeTransientIO, "read failed")

	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}

	if !Is(wrapped, ErrCodeTransientIO) {
		t.Error("Is should return true for matching code")
	}

	if Is(wrapped, ErrCodeJobConflict) {
		t.Error("Is should return false for non-matching code")
	}

	// Is must see through fmt.Errorf wrapping
	outer := fmt.Errorf("serve: %w", wrapped)
	if !Is(outer, ErrCodeTransientIO) {
		t.Error("Is should unwrap foreign wrappers")
	}
	if GetCode(outer) != ErrCodeTransientIO {
		t.Errorf("GetCode = %s, want %s", GetCode(outer), ErrCodeTransientIO)
	}

	detailed := err.WithDetail("marker", ".reprocess-trigger").WithDetail("pid", 42)
	if detailed.Details["marker"] != ".reprocess-trigger" {
		t.Error("WithDetail should add details")
	}
	if detailed.Detail("pid") != "42" {
		t.Errorf("Detail(pid) = %q", detailed.Detail("pid"))
	}
	if detailed.Detail("missing") != "" {
		t.Error("Detail should be empty for unknown keys")
	}
}

func TestErrorConstructors(t *testing.T) {
	err := ValidationFailed("preprocessing.quality", "between 1 and 100")
	if err.Code != ErrCodeConfigValidation {
		t.Errorf("expected code %s, got %s", ErrCodeConfigValidation, err.Code)
	}
	if err.Details["field"] != "preprocessing.quality" {
		t.Error("ValidationFailed should include field detail")
	}
	if err.Error() != "CONFIG_VALIDATION: preprocessing.quality must be between 1 and 100" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	err = CorruptState("/tmp/.reprocess-progress.json", fmt.Errorf("unexpected EOF"))
	if !Is(err, ErrCodeCorruptState) {
		t.Error("CorruptState should carry CORRUPT_STATE")
	}
	if err.Details["path"] != "/tmp/.reprocess-progress.json" {
		t.Error("CorruptState should include path detail")
	}

	if GetCode(nil) != "" {
		t.Error("GetCode(nil) should be empty")
	}
	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Error("As should fail for plain errors")
	}
}
