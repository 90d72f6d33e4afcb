package pattern

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Load reads every *.html template under dir, in lexical order. Files that
// cannot be read or parsed are logged and skipped. The library is read
// fresh on every call so edits take effect on the next run.
func Load(dir string, logger *slog.Logger) ([]*Pattern, error) {
	if logger == nil {
		logger = slog.Default()
	}
	paths, err := files(dir)
	if err != nil {
		return nil, err
	}

	patterns := make([]*Pattern, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("pattern: read failed", "path", path, "error", err)
			continue
		}
		p, err := Parse(filepath.Base(path), string(data))
		if err != nil {
			logger.Warn("pattern: parse failed", "path", path, "error", err)
			continue
		}
		p.Path = path
		patterns = append(patterns, p)
	}
	logger.Debug("pattern: library loaded", "dir", dir, "count", len(patterns))
	return patterns, nil
}

// List returns the file names of the templates under dir.
func List(dir string) ([]string, error) {
	paths, err := files(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names, nil
}

func files(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("pattern: library %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pattern: library %s: not a directory", dir)
	}
	// Glob sorts its result.
	return filepath.Glob(filepath.Join(dir, "*.html"))
}
