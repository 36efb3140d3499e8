package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"image-creator/internal/core"
	"image-creator/internal/generator"
	"image-creator/internal/history"
	imageio "image-creator/internal/io"
	"image-creator/internal/metadata"
	"image-creator/internal/upscale"
	"image-creator/internal/worker"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctrl    *Controller
	loop    *Loop
	client  *generator.MockClient
	outDir  string
	upDir   string
	backDir string
	history string
	busy    chan Busy
	errors  chan core.Notification
	backups chan string
	saved   chan string
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newHarness(t *testing.T, withUpscaler bool) *harness {
	t.Helper()
	logger := quietLogger()
	root := t.TempDir()

	h := &harness{
		loop:    NewLoop(),
		client:  generator.NewMockClient(),
		outDir:  filepath.Join(root, "output"),
		upDir:   filepath.Join(root, "output", "upscaled"),
		backDir: filepath.Join(root, "backup"),
		history: filepath.Join(root, "history.txt"),
		busy:    make(chan Busy, 64),
		errors:  make(chan core.Notification, 8),
		backups: make(chan string, 8),
		saved:   make(chan string, 8),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Run(ctx)

	loader := imageio.NewImageLoader(logger)
	store := metadata.NewStore(logger)
	log := history.NewLog(h.history)

	var up *worker.UpscaleWorker
	if withUpscaler {
		up = worker.NewUpscaleWorker(upscale.NewLanczos(2, logger), loader, h.upDir, logger)
	}

	h.ctrl = NewController(Options{
		Gallery: core.NewGallery(store, loader, h.upDir, logger),
		Generation: worker.NewGenerationWorker(worker.GenerationConfig{
			Client:    h.client,
			Loader:    loader,
			Store:     store,
			History:   log,
			OutputDir: h.outDir,
		}, logger),
		Upscale:         up,
		Backup:          worker.NewBackupWorker(h.backDir, 0, loader, logger),
		Files:           worker.NewFileWorker(store, loader, logger),
		Dispatcher:      h.loop,
		ShutdownTimeout: 5 * time.Second,
		Logger:          logger,
		Closers:         []func() error{log.Close},
	})
	h.ctrl.OnBusy = func(b Busy) { h.busy <- b }
	h.ctrl.OnError = func(n core.Notification) { h.errors <- n }
	h.ctrl.OnBackup = func(p string) { h.backups <- p }
	h.ctrl.OnSaved = func(p string) { h.saved <- p }
	h.ctrl.Start(context.Background())

	t.Cleanup(func() {
		h.ctrl.Shutdown(context.Background())
		h.loop.Stop()
		cancel()
	})
	return h
}

// waitBusy reads busy updates until one satisfies done
func (h *harness) waitBusy(t *testing.T, done func(Busy) bool) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case b := <-h.busy:
			if done(b) {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for workers")
		}
	}
}

// generate runs one batch to completion
func (h *harness) generate(t *testing.T, prepend, prompt string) {
	t.Helper()
	require.NoError(t, h.ctrl.Generate(prepend, prompt))
	h.waitBusy(t, func(b Busy) bool { return !b.Generating })
}

// fileOp runs fn on the interactive context and waits for the file
// operation it queued to finish
func (h *harness) fileOp(t *testing.T, fn func() error) {
	t.Helper()
	var err error
	h.sync(func() { err = fn() })
	require.NoError(t, err)
	h.waitBusy(t, func(b Busy) bool { return b.FileOps > 0 })
	h.waitBusy(t, func(b Busy) bool { return b.FileOps == 0 })
}

func (h *harness) current() core.ImageRecord {
	var rec core.ImageRecord
	h.sync(func() { rec, _ = h.ctrl.Gallery().Current() })
	return rec
}

func (h *harness) records() []core.ImageRecord {
	var out []core.ImageRecord
	h.loop.Sync(func() { out = h.ctrl.Gallery().Records() })
	return out
}

func (h *harness) sync(fn func()) {
	h.loop.Sync(fn)
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

func TestLoadEmptyDirectory(t *testing.T) {
	h := newHarness(t, true)

	require.NoError(t, h.ctrl.Load(h.outDir))
	assert.Empty(t, h.records())

	var cursorOK bool
	h.sync(func() { _, cursorOK = h.ctrl.Gallery().Cursor() })
	assert.False(t, cursorOK)
}

func TestGenerateBatch(t *testing.T) {
	h := newHarness(t, true)

	h.generate(t, "", "a cat")

	records := h.records()
	require.Len(t, records, 4)
	for _, rec := range records {
		assert.Equal(t, "a cat", rec.Prompt)
	}
	assert.Equal(t, 4, countFiles(t, h.outDir))

	entries, err := history.Read(h.history)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestGenerateNewestBatchFirst(t *testing.T) {
	h := newHarness(t, true)

	h.generate(t, "", "first")
	h.generate(t, "watercolor", "second")

	records := h.records()
	require.Len(t, records, 8)
	assert.Equal(t, "watercolor second", records[0].Prompt)
	assert.Equal(t, "first", records[4].Prompt)

	var cursor int
	h.sync(func() { cursor, _ = h.ctrl.Gallery().Cursor() })
	assert.Equal(t, 0, cursor)
}

func TestGeneratePartialFailureShowsNothing(t *testing.T) {
	h := newHarness(t, true)
	h.client.FailAfter = 2

	h.generate(t, "", "a dog")

	select {
	case n := <-h.errors:
		assert.Equal(t, "Do not panic and try different prompt", n.Message)
		assert.NotEmpty(t, n.Detail)
	case <-time.After(5 * time.Second):
		t.Fatal("no error notification")
	}

	assert.Empty(t, h.records())
	assert.Equal(t, 2, countFiles(t, h.outDir))
}

func TestGenerateRejectsWhileBusy(t *testing.T) {
	h := newHarness(t, true)
	h.client.Delay = 200 * time.Millisecond

	require.NoError(t, h.ctrl.Generate("", "one"))
	assert.ErrorIs(t, h.ctrl.Generate("", "two"), worker.ErrBusy)
	assert.ErrorIs(t, h.ctrl.Generate("", "  "), worker.ErrEmptyPrompt)

	h.waitBusy(t, func(b Busy) bool { return !b.Generating })
}

func TestUpscaleCurrent(t *testing.T) {
	h := newHarness(t, true)
	h.generate(t, "", "a cat")

	var err error
	h.sync(func() { err = h.ctrl.Upscale() })
	require.NoError(t, err)
	h.waitBusy(t, func(b Busy) bool { return !b.Upscaling })

	rec := h.records()[0]
	require.True(t, rec.HasUpscaled())
	assert.True(t, rec.ShowUpscaled)
	assert.Equal(t, filepath.Join(h.upDir, filepath.Base(rec.FilePath)), rec.UpscaledPath)
	assert.Equal(t, 128, rec.Display().Bounds().Dx())
	assert.FileExists(t, rec.UpscaledPath)

	h.sync(func() { h.ctrl.ToggleUpscaled() })
	rec = h.records()[0]
	assert.False(t, rec.ShowUpscaled)
	assert.Equal(t, 64, rec.Display().Bounds().Dx())

	// the upscaled directory is not picked up as gallery content
	require.NoError(t, h.ctrl.Load(h.outDir))
	assert.Len(t, h.records(), 4)
}

func TestUpscaleWithoutModel(t *testing.T) {
	h := newHarness(t, false)
	h.generate(t, "", "a cat")

	var err error
	h.sync(func() { err = h.ctrl.Upscale() })
	assert.ErrorIs(t, err, ErrNoUpscaler)
	assert.Equal(t, core.Configuration, core.KindOf(err))
}

func TestActionsOnEmptyGallery(t *testing.T) {
	h := newHarness(t, true)

	var upErr, backErr, delErr, saveErr error
	h.sync(func() {
		upErr = h.ctrl.Upscale()
		backErr = h.ctrl.Backup()
		delErr = h.ctrl.Delete(0)
		saveErr = h.ctrl.Save(0, filepath.Join(t.TempDir(), "x.png"))
	})
	assert.ErrorIs(t, upErr, core.ErrEmptyGallery)
	assert.ErrorIs(t, backErr, core.ErrEmptyGallery)
	assert.ErrorIs(t, delErr, core.ErrEmptyGallery)
	assert.ErrorIs(t, saveErr, core.ErrEmptyGallery)
	assert.Equal(t, "No image selected", core.Notify(upErr).Message)
}

func TestActionsOnRemovedRecord(t *testing.T) {
	h := newHarness(t, true)
	h.client.Images = 2
	h.generate(t, "", "twins")

	rec := h.current()
	h.fileOp(t, func() error { return h.ctrl.Delete(rec.ID) })

	var delErr, editErr error
	h.sync(func() {
		delErr = h.ctrl.Delete(rec.ID)
		editErr = h.ctrl.EditPrompt(rec.ID, "too late")
	})
	assert.ErrorIs(t, delErr, core.ErrRecordGone)
	assert.ErrorIs(t, editErr, core.ErrRecordGone)
	assert.Equal(t, "The image is no longer in the gallery", core.Notify(editErr).Message)
	assert.Len(t, h.records(), 1)
}

func TestDeleteLastRecord(t *testing.T) {
	h := newHarness(t, true)
	h.client.Images = 1
	h.generate(t, "", "lonely")

	records := h.records()
	require.Len(t, records, 1)
	path := records[0].FilePath
	require.FileExists(t, path)

	h.fileOp(t, func() error { return h.ctrl.Delete(records[0].ID) })

	assert.Empty(t, h.records())
	assert.NoFileExists(t, path)
}

func TestDeleteTargetsCapturedRecord(t *testing.T) {
	h := newHarness(t, true)
	h.client.Images = 2
	h.generate(t, "", "older")

	h.sync(func() { h.ctrl.Next() })
	shown := h.current()
	require.Equal(t, "older", shown.Prompt)

	// a batch lands while the confirmation dialog is open
	h.generate(t, "", "newer")
	require.Equal(t, "newer", h.current().Prompt)

	h.fileOp(t, func() error { return h.ctrl.Delete(shown.ID) })

	assert.NoFileExists(t, shown.FilePath)
	records := h.records()
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.NotEqual(t, shown.ID, rec.ID)
		assert.FileExists(t, rec.FilePath)
	}
	assert.Equal(t, "newer", records[0].Prompt)
	assert.Equal(t, "newer", records[1].Prompt)
}

func TestEditPromptPersists(t *testing.T) {
	h := newHarness(t, true)
	h.client.Images = 2
	h.generate(t, "", "draft")

	h.sync(func() { h.ctrl.Next() })
	target := h.current()

	// a new batch moves the cursor before the edit is confirmed
	h.generate(t, "", "other")
	h.fileOp(t, func() error { return h.ctrl.EditPrompt(target.ID, "final") })

	records := h.records()
	require.Len(t, records, 4)
	assert.Equal(t, []string{"other", "other", "draft", "final"}, []string{
		records[0].Prompt, records[1].Prompt, records[2].Prompt, records[3].Prompt,
	})

	prompt, ok, err := metadata.NewStore(quietLogger()).ReadPrompt(target.FilePath)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "final", prompt)

	// blank text leaves the prompt alone
	var blankErr error
	h.sync(func() { blankErr = h.ctrl.EditPrompt(target.ID, "   ") })
	assert.NoError(t, blankErr)
	assert.Equal(t, "final", h.records()[3].Prompt)
}

func TestBackupCurrent(t *testing.T) {
	h := newHarness(t, true)
	h.client.Images = 1
	h.generate(t, "", "keep me")

	var err error
	h.sync(func() { err = h.ctrl.Backup() })
	require.NoError(t, err)

	select {
	case path := <-h.backups:
		assert.Equal(t, h.backDir, filepath.Dir(path))
		assert.Equal(t, filepath.Base(h.records()[0].FilePath), filepath.Base(path))
		assert.FileExists(t, path)
	case <-time.After(5 * time.Second):
		t.Fatal("backup did not finish")
	}
}

func TestSaveRecord(t *testing.T) {
	h := newHarness(t, true)
	h.client.Images = 1
	h.generate(t, "", "save me")

	target := filepath.Join(t.TempDir(), "copy.png")
	rec := h.current()
	h.fileOp(t, func() error { return h.ctrl.Save(rec.ID, target) })

	select {
	case path := <-h.saved:
		assert.Equal(t, target, path)
	case <-time.After(5 * time.Second):
		t.Fatal("save did not report")
	}
	assert.FileExists(t, target)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	h := newHarness(t, true)

	require.NoError(t, h.ctrl.Shutdown(context.Background()))
	assert.ErrorIs(t, h.ctrl.Generate("", "late"), worker.ErrClosed)
	assert.NoError(t, h.ctrl.Shutdown(context.Background()))
}

func TestLoadReadsPersistedPrompts(t *testing.T) {
	h := newHarness(t, true)
	h.client.Images = 2
	h.generate(t, "", "persisted")

	require.NoError(t, h.ctrl.Load(h.outDir))
	records := h.records()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "persisted", rec.Prompt)
	}
}

func TestLoadKeepsBatchFromConcurrentGeneration(t *testing.T) {
	h := newHarness(t, true)
	h.client.Images = 1
	h.generate(t, "", "on disk")

	// hold the interactive context so the generated batch is applied
	// between the scan and the merge
	release := make(chan struct{})
	h.loop.Do(func() { <-release })

	loaded := make(chan error, 1)
	go func() { loaded <- h.ctrl.Load(h.outDir) }()

	require.NoError(t, h.ctrl.Generate("", "while loading"))
	close(release)
	h.waitBusy(t, func(b Busy) bool { return !b.Generating })
	require.NoError(t, <-loaded)

	var prompts []string
	for _, rec := range h.records() {
		prompts = append(prompts, rec.Prompt)
	}
	assert.Contains(t, prompts, "while loading")
	assert.Contains(t, prompts, "on disk")
	assert.Len(t, prompts, 2)
}
