package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hf.json")
	s := NewStore(path)

	t.Run("load_missing", func(t *testing.T) {
		if _, err := s.Load(); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("save_then_load", func(t *testing.T) {
		if err := s.Save(" hf_abc123 "); err != nil {
			t.Fatalf("Save: %v", err)
		}
		tok, err := s.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if tok.Reveal() != "hf_abc123" {
			t.Errorf("token = %q, want hf_abc123", tok.Reveal())
		}
		data, _ := os.ReadFile(path)
		if !strings.Contains(string(data), `"hf_token":"hf_abc123"`) {
			t.Errorf("unexpected file content %s", data)
		}
		info, _ := os.Stat(path)
		if info.Mode().Perm() != 0o600 {
			t.Errorf("perm = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("clear", func(t *testing.T) {
		if err := s.Clear(); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if err := s.Clear(); err != nil {
			t.Errorf("second Clear: %v", err)
		}
		if _, err := s.Load(); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("refuse_empty", func(t *testing.T) {
		if err := s.Save("  "); err == nil {
			t.Error("expected error saving empty token")
		}
	})
}

func TestTokenRedacts(t *testing.T) {
	tok := Token("hf_secret")
	for _, s := range []string{tok.String(), fmt.Sprint(tok), fmt.Sprintf("%v", tok)} {
		if strings.Contains(s, "secret") {
			t.Errorf("token leaked: %q", s)
		}
	}
}

func TestResolve(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "hf.json"))

	tok, err := Resolve("", s)
	if err != nil || tok.IsSet() {
		t.Errorf("Resolve with nothing stored = %q, %v", tok.Reveal(), err)
	}

	s.Save("stored")
	tok, _ = Resolve("", s)
	if tok.Reveal() != "stored" {
		t.Errorf("Resolve = %q, want stored", tok.Reveal())
	}

	tok, _ = Resolve("from-env", s)
	if tok.Reveal() != "from-env" {
		t.Errorf("Resolve = %q, want explicit value to win", tok.Reveal())
	}
}
