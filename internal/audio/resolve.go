package audio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/snarg/scribe-engine/internal/errs"
)

var supported = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true, ".ogg": true,
	".opus": true, ".webm": true, ".mp4": true, ".aac": true, ".wma": true,
}

// Supported reports whether path has an extension the pipeline accepts.
func Supported(path string) bool {
	return supported[strings.ToLower(filepath.Ext(path))]
}

// ResolveFile finds an input audio file. Absolute paths are used as-is;
// relative paths are tried as given and then under each of dirs in order.
// The result must exist, be a regular non-empty file and carry a supported
// extension; anything else is an input error.
func ResolveFile(path string, dirs ...string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errs.Inputf("resolve", "", "no audio file given")
	}
	if !Supported(path) {
		return "", errs.Inputf("resolve", path, "unsupported audio format %q", filepath.Ext(path))
	}

	candidates := []string{path}
	if !filepath.IsAbs(path) {
		for _, d := range dirs {
			if d != "" {
				candidates = append(candidates, filepath.Join(d, path))
			}
		}
	}

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			return "", errs.Inputf("resolve", c, "not a regular file")
		}
		if info.Size() == 0 {
			return "", errs.Inputf("resolve", c, "file is empty")
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			return c, nil
		}
		return abs, nil
	}
	return "", errs.Input("resolve", path, os.ErrNotExist)
}
