package core

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ScanDirectory builds a record for every readable image below dir, newest
// first. Unreadable files are skipped, so one broken file never blocks the
// rest of the directory. Directories listed in skip are not descended into.
//
// Files are ordered by modification time since creation time is not portable.
func ScanDirectory(dir string, store PromptStore, codec ImageReader, logger logrus.FieldLogger, skip ...string) ([]ImageRecord, error) {
	logger = logger.WithField("dir", dir)

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("Output directory does not exist yet")
		return []ImageRecord{}, nil
	}
	if err != nil {
		return nil, E(TransientIO, "scan", err)
	}
	if !info.IsDir() {
		logger.Warn("Output path is not a directory")
		return []ImageRecord{}, nil
	}

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		if s == "" {
			continue
		}
		if abs, err := filepath.Abs(s); err == nil {
			skipped[abs] = true
		}
	}

	type scanned struct {
		record  ImageRecord
		modTime time.Time
	}
	var found []scanned

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.WithError(err).WithField("path", path).Debug("Skipping unreadable entry")
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if abs, err := filepath.Abs(path); err == nil && skipped[abs] && path != dir {
				return fs.SkipDir
			}
			return nil
		}

		rec, modTime, err := loadRecord(path, d, store, codec)
		if err != nil {
			logger.WithError(err).WithField("path", path).Debug("Error while loading file")
			return nil
		}
		found = append(found, scanned{record: rec, modTime: modTime})
		return nil
	})
	if walkErr != nil {
		return nil, E(TransientIO, "scan", walkErr)
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].modTime.After(found[j].modTime)
	})

	records := make([]ImageRecord, len(found))
	for i := range found {
		records[i] = found[i].record
	}

	logger.WithField("count", len(records)).Debug("Directory scanned")
	return records, nil
}

func loadRecord(path string, d fs.DirEntry, store PromptStore, codec ImageReader) (ImageRecord, time.Time, error) {
	info, err := d.Info()
	if err != nil {
		return ImageRecord{}, time.Time{}, E(FileIntegrity, "scan", err)
	}

	img, err := codec.ReadImage(path)
	if err != nil {
		return ImageRecord{}, time.Time{}, E(FileIntegrity, "scan", err)
	}

	prompt, _, err := store.ReadPrompt(path)
	if err != nil {
		return ImageRecord{}, time.Time{}, E(FileIntegrity, "scan", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return ImageRecord{
		Image:    img,
		Prompt:   prompt,
		FilePath: abs,
	}, info.ModTime(), nil
}
