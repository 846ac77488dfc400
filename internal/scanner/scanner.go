// Package scanner enumerates a source tree into the flat file list a backup
// run uploads.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/edvin/backhaul/internal/model"
)

// OS artifact files and directories that never belong in a backup. Matches
// are exact and case-sensitive; Thumbs.db is listed in both casings because
// Windows itself writes both.
var junkFiles = map[string]struct{}{
	".DS_Store":       {},
	".localized":      {},
	"Thumbs.db":       {},
	"thumbs.db":       {},
	"desktop.ini":     {},
	"ehthumbs.db":     {},
	".Spotlight-V100": {},
}

var junkDirs = map[string]struct{}{
	"$RECYCLE.BIN":              {},
	"System Volume Information": {},
	".Trashes":                  {},
	".fseventsd":                {},
}

// Scanner walks a directory tree depth-first, skipping OS artifacts.
type Scanner struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Scanner {
	return &Scanner{logger: logger.With().Str("component", "scanner").Logger()}
}

// Scan returns every regular file under rootPath along with the number of
// junk entries skipped. A per-entry stat failure is logged and the entry
// dropped; it does not abort the scan.
func (s *Scanner) Scan(rootPath string) ([]model.FileInfo, int, error) {
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve source path %q: %w", rootPath, err)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, 0, fmt.Errorf("stat source path %q: %w", root, err)
	}

	var files []model.FileInfo
	skipped := 0

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			s.logger.Warn().Err(walkErr).Str("path", p).Msg("skipping unreadable entry")
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if _, junk := junkDirs[name]; junk && p != root {
				skipped++
				return filepath.SkipDir
			}
			return nil
		}

		if _, junk := junkFiles[name]; junk {
			skipped++
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Warn().Err(err).Str("path", p).Msg("stat failed, dropping entry")
			return nil
		}

		files = append(files, model.FileInfo{Path: p, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan %q: %w", root, err)
	}

	return files, skipped, nil
}
