// Gallery state machine: ordered records plus a cursor
package core

import (
	"errors"
	"image"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrNotPersisted is returned when an operation needs a backing file the record does not have
var ErrNotPersisted = errors.New("image has no backing file")

// PromptStore reads and writes the prompt embedded in an image file
type PromptStore interface {
	ReadPrompt(path string) (string, bool, error)
	WritePrompt(path, prompt string) error
}

// ImageReader decodes image files
type ImageReader interface {
	ReadImage(path string) (image.Image, error)
}

// UpscaledImage is an upscaling result tied to the file it was produced
// from. Path is where the result was written.
type UpscaledImage struct {
	Image      image.Image
	SourcePath string
	Path       string
}

// Gallery owns the ordered collection of known images and the cursor into it.
// It never touches the disk except through Scan; file changes are made by
// workers and committed here once they succeeded.
//
// A Gallery is not safe for concurrent use. Apart from Scan and Mark it must
// only be touched from the interactive context.
type Gallery struct {
	records     []ImageRecord
	cursor      int
	store       PromptStore
	codec       ImageReader
	upscaledDir string
	logger      logrus.FieldLogger

	nextID atomic.Uint64
}

func NewGallery(store PromptStore, codec ImageReader, upscaledDir string, logger logrus.FieldLogger) *Gallery {
	g := &Gallery{
		records:     make([]ImageRecord, 0),
		store:       store,
		codec:       codec,
		upscaledDir: upscaledDir,
		logger:      logger,
	}
	g.nextID.Store(1)
	return g
}

// Len returns the number of records
func (g *Gallery) Len() int {
	return len(g.records)
}

// IsEmpty returns true if there are no records
func (g *Gallery) IsEmpty() bool {
	return len(g.records) == 0
}

// Cursor returns the current index. The second value is false when the gallery is empty.
func (g *Gallery) Cursor() (int, bool) {
	if g.IsEmpty() {
		return 0, false
	}
	return g.cursor, true
}

// Current returns a copy of the record under the cursor
func (g *Gallery) Current() (ImageRecord, bool) {
	if g.IsEmpty() {
		return ImageRecord{}, false
	}
	return g.records[g.cursor], true
}

// Find returns a copy of the record with the given ID
func (g *Gallery) Find(id uint64) (ImageRecord, bool) {
	i := g.indexOfID(id)
	if i < 0 {
		return ImageRecord{}, false
	}
	return g.records[i], true
}

// Records returns a copy of all records, newest first
func (g *Gallery) Records() []ImageRecord {
	out := make([]ImageRecord, len(g.records))
	copy(out, g.records)
	return out
}

// Mark returns the ID the next inserted record will get. Records inserted
// after the call have an ID >= the mark. Safe from any goroutine.
func (g *Gallery) Mark() uint64 {
	return g.nextID.Load()
}

// Scan reads the images found in dir without changing the gallery. It only
// uses immutable collaborators, so unlike other methods it may run off the
// interactive context.
func (g *Gallery) Scan(dir string) ([]ImageRecord, error) {
	return ScanDirectory(dir, g.store, g.codec, g.logger, g.upscaledDir)
}

// LoadFromDirectory replaces the gallery content with the images found in dir
func (g *Gallery) LoadFromDirectory(dir string) error {
	records, err := g.Scan(dir)
	if err != nil {
		return err
	}
	g.Replace(records)
	return nil
}

// Replace installs a freshly scanned record set and resets the cursor
func (g *Gallery) Replace(scanned []ImageRecord) {
	g.Merge(scanned, g.Mark())
}

// Merge installs records scanned while the gallery kept changing. Records
// inserted since mark that the scan did not see stay in front, so a batch
// received during a slow scan is not lost. A scanned file already known to
// the gallery keeps its record, including an attached upscaled view.
//
// The cursor stays on the current record if it was inserted since mark and
// moves to the first record otherwise.
func (g *Gallery) Merge(scanned []ImageRecord, mark uint64) {
	known := make(map[string]ImageRecord, len(g.records))
	for _, r := range g.records {
		if r.FilePath != "" {
			known[r.FilePath] = r
		}
	}
	seen := make(map[string]bool, len(scanned))
	for _, r := range scanned {
		seen[r.FilePath] = true
	}

	current, hasCurrent := g.Current()

	merged := make([]ImageRecord, 0, len(scanned)+len(g.records))
	kept := 0
	for _, r := range g.records {
		if r.ID >= mark && (r.FilePath == "" || !seen[r.FilePath]) {
			merged = append(merged, r)
			kept++
		}
	}
	for _, r := range scanned {
		if existing, ok := known[r.FilePath]; ok && r.FilePath != "" {
			merged = append(merged, existing)
			continue
		}
		r.ID = g.nextID.Add(1) - 1
		merged = append(merged, r)
	}

	g.records = merged
	g.cursor = 0
	if hasCurrent && current.ID >= mark {
		if i := g.indexOfID(current.ID); i >= 0 {
			g.cursor = i
		}
	}

	g.logger.WithFields(logrus.Fields{
		"count": len(merged),
		"kept":  kept,
	}).Info("Gallery loaded")
}

// ReceiveGenerated puts a generation batch in front of the existing records,
// keeping the batch order, and moves the cursor to its first image. Records
// a directory scan already picked up for the same files are replaced.
func (g *Gallery) ReceiveGenerated(batch []ImageRecord) {
	if len(batch) == 0 {
		return
	}
	incoming := make(map[string]bool, len(batch))
	merged := make([]ImageRecord, 0, len(batch)+len(g.records))
	for _, r := range batch {
		r.ID = g.nextID.Add(1) - 1
		merged = append(merged, r)
		if r.FilePath != "" {
			incoming[r.FilePath] = true
		}
	}
	for _, r := range g.records {
		if r.FilePath == "" || !incoming[r.FilePath] {
			merged = append(merged, r)
		}
	}
	g.records = merged
	g.cursor = 0

	g.logger.WithFields(logrus.Fields{
		"batch": len(batch),
		"total": len(g.records),
	}).Info("Generated images received")
}

// SetCursor moves the cursor, wrapping around at both ends
func (g *Gallery) SetCursor(i int) {
	n := len(g.records)
	if n == 0 {
		g.cursor = 0
		return
	}
	g.cursor = ((i % n) + n) % n
}

// Next moves to the following image, cycling to the first one at the end
func (g *Gallery) Next() {
	g.SetCursor(g.cursor + 1)
}

// Previous moves to the preceding image, cycling to the last one at the start
func (g *Gallery) Previous() {
	g.SetCursor(g.cursor - 1)
}

// Remove drops the record with the given ID. Call it only once the backing
// file is gone. The cursor keeps pointing at the image it showed; when that
// image is the removed one it clamps to the new last element.
func (g *Gallery) Remove(id uint64) bool {
	i := g.indexOfID(id)
	if i < 0 {
		return false
	}
	rec := g.records[i]

	g.records = append(g.records[:i], g.records[i+1:]...)
	if i < g.cursor {
		g.cursor--
	}
	g.clampCursor()

	g.logger.WithFields(logrus.Fields{
		"path":      rec.FilePath,
		"remaining": len(g.records),
	}).Info("Image deleted")
	return true
}

func (g *Gallery) clampCursor() {
	switch {
	case len(g.records) == 0:
		g.cursor = 0
	case g.cursor >= len(g.records):
		g.cursor = len(g.records) - 1
	case g.cursor < 0:
		g.cursor = 0
	}
}

// SetPrompt commits a prompt that was already written to the record's file
func (g *Gallery) SetPrompt(id uint64, text string) bool {
	i := g.indexOfID(id)
	if i < 0 {
		return false
	}
	g.records[i].Prompt = text
	g.logger.WithField("path", g.records[i].FilePath).Debug("Prompt updated")
	return true
}

// AttachUpscaled shows an upscaling result on the record whose file it was
// produced from. It reports false when that record no longer exists.
func (g *Gallery) AttachUpscaled(result UpscaledImage) bool {
	if result.Image == nil || result.SourcePath == "" {
		return false
	}
	idx := g.indexOfPath(result.SourcePath)
	if idx < 0 {
		g.logger.WithField("source", result.SourcePath).Warn("Upscaled image saved but its source is no longer in the gallery")
		return false
	}

	rec := &g.records[idx]
	rec.Upscaled = result.Image
	rec.UpscaledPath = result.Path
	rec.ShowUpscaled = true

	g.logger.WithFields(logrus.Fields{
		"source": result.SourcePath,
		"output": result.Path,
		"size":   rec.Size().String(),
	}).Info("Upscaled image accepted")
	return true
}

// ToggleUpscaled switches the current record between its original and upscaled view
func (g *Gallery) ToggleUpscaled() bool {
	if g.IsEmpty() {
		return false
	}
	rec := &g.records[g.cursor]
	if !rec.HasUpscaled() {
		return false
	}
	rec.ShowUpscaled = !rec.ShowUpscaled
	return true
}

func (g *Gallery) indexOfID(id uint64) int {
	for i := range g.records {
		if g.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *Gallery) indexOfPath(path string) int {
	for i := range g.records {
		if g.records[i].FilePath == path {
			return i
		}
	}
	return -1
}
