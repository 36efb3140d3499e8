package worker

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"image-creator/internal/core"
	"image-creator/internal/generator"
	"image-creator/internal/history"
	imageio "image-creator/internal/io"
	"image-creator/internal/metadata"
	"image-creator/internal/upscale"
	"image-creator/internal/watermark"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type generationFixture struct {
	worker  *GenerationWorker
	client  *generator.MockClient
	outDir  string
	history string
	store   *metadata.Store
}

func newGenerationFixture(t *testing.T) *generationFixture {
	t.Helper()
	logger := quietLogger()
	dir := t.TempDir()

	client := generator.NewMockClient()
	client.Images = 4

	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), client.Height, client.Width, gocv.MatTypeCV8UC1)
	remover, err := watermark.NewRemover(mask)
	require.NoError(t, err)
	t.Cleanup(remover.Close)

	historyPath := filepath.Join(dir, "history.txt")
	log := history.NewLog(historyPath)
	t.Cleanup(func() { log.Close() })

	store := metadata.NewStore(logger)
	w := NewGenerationWorker(GenerationConfig{
		Client:    client,
		Remover:   remover,
		Loader:    imageio.NewImageLoader(logger),
		Store:     store,
		History:   log,
		OutputDir: filepath.Join(dir, "out"),
	}, logger)
	w.Start(context.Background())
	t.Cleanup(func() { w.Shutdown(context.Background()) })

	return &generationFixture{
		worker:  w,
		client:  client,
		outDir:  filepath.Join(dir, "out"),
		history: historyPath,
		store:   store,
	}
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestGenerationBatch(t *testing.T) {
	f := newGenerationFixture(t)

	require.NoError(t, f.worker.Submit("  a cat  "))
	events := collect(t, f.worker.Events(), 1)
	require.Equal(t, []EventKind{Started, Succeeded, Finished}, kinds(events))

	batch := events[1].Result
	require.Len(t, batch, 4)
	assert.Len(t, listFiles(t, f.outDir), 4)

	for _, rec := range batch {
		assert.Equal(t, "a cat", rec.Prompt)
		assert.True(t, filepath.IsAbs(rec.FilePath))
		assert.Equal(t, ".jpg", filepath.Ext(rec.FilePath))
		assert.Equal(t, 64, rec.Image.Bounds().Dx())

		prompt, ok, err := f.store.ReadPrompt(rec.FilePath)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "a cat", prompt)
	}

	entries, err := history.Read(f.history)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, "a cat", e.Prompt)
		assert.Equal(t, batch[i].FilePath, e.Path)
	}

	data, err := os.ReadFile(f.history)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		assert.True(t, strings.HasPrefix(line, "a cat :: ["))
	}
}

func TestGenerationPartialFailure(t *testing.T) {
	f := newGenerationFixture(t)
	f.client.FailAfter = 2

	require.NoError(t, f.worker.Submit("a dog"))
	events := collect(t, f.worker.Events(), 1)
	require.Equal(t, []EventKind{Started, Failed, Finished}, kinds(events))

	assert.Equal(t, core.TransientIO, core.KindOf(events[1].Err))
	assert.Nil(t, events[1].Result)

	// already persisted images stay on disk
	assert.Len(t, listFiles(t, f.outDir), 2)
	entries, err := history.Read(f.history)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGenerationServiceFailure(t *testing.T) {
	f := newGenerationFixture(t)
	f.client.ShouldFail = true

	require.NoError(t, f.worker.Submit("a bird"))
	events := collect(t, f.worker.Events(), 1)
	require.Equal(t, Failed, events[1].Kind)

	assert.Equal(t, core.TransientIO, core.KindOf(events[1].Err))
	assert.Equal(t, "Do not panic and try different prompt", core.Notify(events[1].Err).Message)
}

func TestGenerationMaskMismatch(t *testing.T) {
	f := newGenerationFixture(t)
	f.client.Width = 32

	require.NoError(t, f.worker.Submit("a fish"))
	events := collect(t, f.worker.Events(), 1)
	require.Equal(t, Failed, events[1].Kind)
	assert.Equal(t, core.Configuration, core.KindOf(events[1].Err))
}

func TestGenerationRejectsBlankPrompt(t *testing.T) {
	f := newGenerationFixture(t)

	assert.ErrorIs(t, f.worker.Submit("   "), ErrEmptyPrompt)
	assert.False(t, f.worker.Busy())
}

func TestGenerationSingleFlight(t *testing.T) {
	f := newGenerationFixture(t)
	f.client.Delay = 200 * time.Millisecond

	require.NoError(t, f.worker.Submit("first"))
	assert.ErrorIs(t, f.worker.Submit("second"), ErrBusy)

	collect(t, f.worker.Events(), 1)
	assert.Equal(t, []string{"first"}, f.client.Calls())
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	return img
}

func TestUpscaleWorker(t *testing.T) {
	logger := quietLogger()
	dir := filepath.Join(t.TempDir(), "upscaled")
	w := NewUpscaleWorker(upscale.NewLanczos(2, logger), imageio.NewImageLoader(logger), dir, logger)
	w.Start(context.Background())
	defer w.Shutdown(context.Background())

	assert.Equal(t, upscale.DeviceCPU, w.Device())

	require.NoError(t, w.Submit(UpscaleRequest{Image: solidImage(10, 8), SourcePath: "/out/a.jpg"}))
	assert.ErrorIs(t, w.Submit(UpscaleRequest{Image: solidImage(2, 2)}), ErrBusy)

	events := collect(t, w.Events(), 1)
	require.Equal(t, []EventKind{Started, Succeeded, Finished}, kinds(events))

	result := events[1].Result
	assert.Equal(t, "/out/a.jpg", result.SourcePath)
	assert.Equal(t, image.Pt(20, 16), result.Image.Bounds().Size())

	// the result is on disk before the gallery sees it
	assert.Equal(t, filepath.Join(dir, "a.jpg"), result.Path)
	assert.FileExists(t, result.Path)
}

func TestUpscaleWorkerRejectsInvalidRequests(t *testing.T) {
	logger := quietLogger()
	w := NewUpscaleWorker(upscale.NewLanczos(2, logger), imageio.NewImageLoader(logger), t.TempDir(), logger)
	w.Start(context.Background())
	defer w.Shutdown(context.Background())

	for _, req := range []UpscaleRequest{{}, {Image: solidImage(2, 2)}} {
		require.NoError(t, w.Submit(req))
		events := collect(t, w.Events(), 1)
		require.Equal(t, Failed, events[1].Kind)
		assert.Equal(t, core.StateInvariant, core.KindOf(events[1].Err))
	}
}

func TestBackupWorkerFIFO(t *testing.T) {
	logger := quietLogger()
	dir := filepath.Join(t.TempDir(), "backup")
	w := NewBackupWorker(dir, 0, imageio.NewImageLoader(logger), logger)
	w.Start(context.Background())
	defer w.Shutdown(context.Background())

	names := []string{"first.jpg", "/elsewhere/second.png", ""}
	for _, name := range names {
		require.NoError(t, w.Submit(BackupRequest{Image: solidImage(8, 8), Name: name}))
	}

	var paths []string
	for _, ev := range collect(t, w.Events(), len(names)) {
		require.NotEqual(t, Failed, ev.Kind, "backup failed: %v", ev.Err)
		if ev.Kind == Succeeded {
			paths = append(paths, ev.Result)
		}
	}

	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "first.jpg"), paths[0])
	assert.Equal(t, filepath.Join(dir, "second.jpg"), paths[1])
	assert.Equal(t, dir, filepath.Dir(paths[2]))

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestBackupWorkerDelay(t *testing.T) {
	logger := quietLogger()
	w := NewBackupWorker(t.TempDir(), 50*time.Millisecond, imageio.NewImageLoader(logger), logger)
	w.Start(context.Background())
	defer w.Shutdown(context.Background())

	start := time.Now()
	require.NoError(t, w.Submit(BackupRequest{Image: solidImage(4, 4), Name: "x"}))
	collect(t, w.Events(), 1)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
