package browser

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ResolveFilePaths normalizes upload file references to absolute
// filesystem paths: file:// URIs are unwrapped, absolute paths pass
// through, relative paths resolve against the process working
// directory.
func ResolveFilePaths(files []string) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, f := range files {
		resolved, err := resolveFilePath(f)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func resolveFilePath(f string) (string, error) {
	if strings.HasPrefix(f, "file://") {
		u, err := url.Parse(f)
		if err != nil {
			return "", fmt.Errorf("invalid file uri %q: %w", f, err)
		}
		return u.Path, nil
	}
	if filepath.IsAbs(f) {
		return f, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, f), nil
}
