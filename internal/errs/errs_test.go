package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	t.Run("wrapped_twice", func(t *testing.T) {
		err := fmt.Errorf("pipeline: %w", Engine("speech", "a.wav", base))
		if got := KindOf(err); got != KindEngine {
			t.Errorf("KindOf = %v, want engine", got)
		}
		if !errors.Is(err, base) {
			t.Error("errors.Is lost the cause")
		}
	})

	t.Run("plain_error", func(t *testing.T) {
		if got := KindOf(base); got != KindUnknown {
			t.Errorf("KindOf = %v, want unknown", got)
		}
	})

	t.Run("nil_passthrough", func(t *testing.T) {
		if err := Format("render", "x.srt", nil); err != nil {
			t.Errorf("Format(nil) = %v, want nil", err)
		}
	})
}

func TestErrorMessage(t *testing.T) {
	err := Input("open", "/tmp/missing.wav", fs.ErrNotExist)
	want := "input error in open (/tmp/missing.wav): file does not exist"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
