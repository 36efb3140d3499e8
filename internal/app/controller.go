// Interactive context of the application: user actions go out to the
// workers, worker events come back and are applied to the gallery.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"image-creator/internal/core"
	"image-creator/internal/worker"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoUpscaler is returned when no super-resolution model could be loaded
var ErrNoUpscaler = errors.New("upscaler is not available")

// Busy describes which workers have work in progress
type Busy struct {
	Generating bool
	Upscaling  bool
	BackingUp  int
	FileOps    int
}

// Any reports whether any worker is busy
func (b Busy) Any() bool {
	return b.Generating || b.Upscaling || b.BackingUp > 0 || b.FileOps > 0
}

// Options wires a Controller. Upscale may be nil when no model is available;
// UpscaleErr then explains why.
type Options struct {
	Gallery         *core.Gallery
	Generation      *worker.GenerationWorker
	Upscale         *worker.UpscaleWorker
	Backup          *worker.BackupWorker
	Files           *worker.FileWorker
	UpscaleErr      error
	Dispatcher      Dispatcher
	ShutdownTimeout time.Duration
	Logger          logrus.FieldLogger
	Closers         []func() error
}

// Controller owns the gallery. Except for Generate, Load and Shutdown, its
// methods must be called on the interactive context, and all callbacks run
// there. File changes are made by workers; the gallery is only updated
// once they succeeded.
type Controller struct {
	gallery    *core.Gallery
	generation *worker.GenerationWorker
	upscale    *worker.UpscaleWorker
	backup     *worker.BackupWorker
	files      *worker.FileWorker
	upscaleErr error
	dispatch   Dispatcher
	timeout    time.Duration
	logger     logrus.FieldLogger
	closers    []func() error

	// OnChange is called after the gallery changed
	OnChange func()
	// OnBusy is called whenever a worker starts or finishes
	OnBusy func(Busy)
	// OnError is called for failures that happen asynchronously
	OnError func(core.Notification)
	// OnBackup is called with the path of every finished backup
	OnBackup func(path string)
	// OnSaved is called with the target of every finished save
	OnSaved func(path string)

	busy  Busy
	pumps sync.WaitGroup

	mu       sync.Mutex
	started  bool
	shutdown bool
}

func NewController(opts Options) *Controller {
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Controller{
		gallery:    opts.Gallery,
		generation: opts.Generation,
		upscale:    opts.Upscale,
		backup:     opts.Backup,
		files:      opts.Files,
		upscaleErr: opts.UpscaleErr,
		dispatch:   opts.Dispatcher,
		timeout:    timeout,
		logger:     opts.Logger,
		closers:    opts.Closers,
	}
}

// Gallery gives read access to the gallery on the interactive context
func (c *Controller) Gallery() *core.Gallery {
	return c.gallery
}

// Busy returns the current worker state
func (c *Controller) Busy() Busy {
	return c.busy
}

// UpscaleDevice names the device the upscaler runs on, or "" without one
func (c *Controller) UpscaleDevice() string {
	if c.upscale == nil {
		return ""
	}
	return c.upscale.Device()
}

// Start launches the workers and the goroutines forwarding their events
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.generation.Start(ctx)
	startPump(c, c.generation.Events(), c.applyGeneration)

	if c.upscale != nil {
		c.upscale.Start(ctx)
		startPump(c, c.upscale.Events(), c.applyUpscale)
	}

	c.backup.Start(ctx)
	startPump(c, c.backup.Events(), c.applyBackup)

	c.files.Start(ctx)
	startPump(c, c.files.Events(), c.applyFiles)
}

func startPump[R any](c *Controller, events <-chan worker.Event[R], apply func(worker.Event[R])) {
	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		for ev := range events {
			c.dispatch.Do(func() { apply(ev) })
		}
	}()
}

// Load scans dir and merges the result into the gallery. The scan runs on
// the calling goroutine; only the result is applied on the interactive
// context, keeping batches that arrived while the scan was running.
func (c *Controller) Load(dir string) error {
	mark := c.gallery.Mark()
	records, err := c.gallery.Scan(dir)
	if err != nil {
		return err
	}
	c.dispatch.Do(func() {
		c.gallery.Merge(records, mark)
		c.changed()
	})
	return nil
}

// Generate submits prepend and prompt joined by a space. It never blocks;
// ErrBusy and ErrEmptyPrompt are returned synchronously.
func (c *Controller) Generate(prepend, prompt string) error {
	if c.isShutdown() {
		return worker.ErrClosed
	}
	return c.generation.Submit(worker.JoinPrompt(prepend, prompt))
}

// Upscale submits the original bitmap of the current image
func (c *Controller) Upscale() error {
	if c.upscale == nil {
		err := c.upscaleErr
		if err == nil {
			err = ErrNoUpscaler
		}
		return core.E(core.Configuration, core.OpUpscale, err)
	}
	rec, ok := c.gallery.Current()
	if !ok {
		return core.E(core.StateInvariant, core.OpUpscale, core.ErrEmptyGallery)
	}
	return c.upscale.Submit(worker.UpscaleRequest{Image: rec.Image, SourcePath: rec.FilePath})
}

// Backup queues a copy of the displayed bitmap of the current image
func (c *Controller) Backup() error {
	rec, ok := c.gallery.Current()
	if !ok {
		return core.E(core.StateInvariant, core.OpBackup, core.ErrEmptyGallery)
	}
	return c.backup.Submit(worker.BackupRequest{Image: rec.Display(), Name: rec.BaseName()})
}

func (c *Controller) Next() {
	c.gallery.Next()
	c.changed()
}

func (c *Controller) Previous() {
	c.gallery.Previous()
	c.changed()
}

// Delete queues removal of the file behind record id. The record leaves the
// gallery once the file is gone and stays if the removal fails. Records
// without a file are removed right away.
func (c *Controller) Delete(id uint64) error {
	rec, err := c.lookup(core.OpDelete, id)
	if err != nil {
		return err
	}
	if rec.FilePath == "" {
		c.gallery.Remove(id)
		c.changed()
		return nil
	}
	return c.files.Submit(worker.FileRequest{Op: worker.FileDelete, ID: id, Path: rec.FilePath})
}

// EditPrompt queues writing text into the file of record id; the gallery
// shows the new prompt once it is on disk. Blank text is ignored.
func (c *Controller) EditPrompt(id uint64, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	rec, err := c.lookup(core.OpEditPrompt, id)
	if err != nil {
		return err
	}
	if rec.FilePath == "" {
		c.gallery.SetPrompt(id, text)
		c.changed()
		return nil
	}
	return c.files.Submit(worker.FileRequest{Op: worker.FilePrompt, ID: id, Path: rec.FilePath, Prompt: text})
}

func (c *Controller) ToggleUpscaled() {
	if c.gallery.ToggleUpscaled() {
		c.changed()
	}
}

// Save queues encoding the displayed bitmap of record id to target
func (c *Controller) Save(id uint64, target string) error {
	rec, err := c.lookup(core.OpSave, id)
	if err != nil {
		return err
	}
	return c.files.Submit(worker.FileRequest{Op: worker.FileSave, ID: id, Image: rec.Display(), Target: target})
}

func (c *Controller) lookup(op string, id uint64) (core.ImageRecord, error) {
	if c.gallery.IsEmpty() {
		return core.ImageRecord{}, core.E(core.StateInvariant, op, core.ErrEmptyGallery)
	}
	rec, ok := c.gallery.Find(id)
	if !ok {
		return core.ImageRecord{}, core.E(core.StateInvariant, op, core.ErrRecordGone)
	}
	return rec, nil
}

// Shutdown stops accepting requests and drains the workers concurrently.
// Work still running when the shutdown timeout expires is abandoned.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.generation.Shutdown(gctx) })
	if c.upscale != nil {
		g.Go(func() error { return c.upscale.Shutdown(gctx) })
	}
	g.Go(func() error { return c.backup.Shutdown(gctx) })
	g.Go(func() error { return c.files.Shutdown(gctx) })

	err := g.Wait()
	if err != nil {
		// abandoned work may still use the shared resources, leave them open
		c.logger.WithError(err).Warn("Workers did not finish in time")
		return err
	}

	drained := make(chan struct{})
	go func() {
		c.pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}

	for _, closeFn := range c.closers {
		if cerr := closeFn(); cerr != nil {
			c.logger.WithError(cerr).Warn("Failed to release resource")
		}
	}

	c.logger.WithField("elapsed", time.Since(start).String()).Info("Shutdown complete")
	return nil
}

func (c *Controller) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

func (c *Controller) applyGeneration(ev worker.Event[[]core.ImageRecord]) {
	switch ev.Kind {
	case worker.Started:
		c.busy.Generating = true
		c.busyChanged()
	case worker.Succeeded:
		c.gallery.ReceiveGenerated(ev.Result)
		c.changed()
	case worker.Failed:
		c.fail(ev.Err)
	case worker.Finished:
		c.busy.Generating = false
		c.busyChanged()
	}
}

func (c *Controller) applyUpscale(ev worker.Event[core.UpscaledImage]) {
	switch ev.Kind {
	case worker.Started:
		c.busy.Upscaling = true
		c.busyChanged()
	case worker.Succeeded:
		if c.gallery.AttachUpscaled(ev.Result) {
			c.changed()
		}
	case worker.Failed:
		c.fail(ev.Err)
	case worker.Finished:
		c.busy.Upscaling = false
		c.busyChanged()
	}
}

func (c *Controller) applyBackup(ev worker.Event[string]) {
	switch ev.Kind {
	case worker.Started:
		c.busy.BackingUp++
		c.busyChanged()
	case worker.Succeeded:
		if c.OnBackup != nil {
			c.OnBackup(ev.Result)
		}
	case worker.Failed:
		c.fail(ev.Err)
	case worker.Finished:
		c.busy.BackingUp--
		c.busyChanged()
	}
}

func (c *Controller) applyFiles(ev worker.Event[worker.FileRequest]) {
	switch ev.Kind {
	case worker.Started:
		c.busy.FileOps++
		c.busyChanged()
	case worker.Succeeded:
		req := ev.Result
		switch req.Op {
		case worker.FileDelete:
			if c.gallery.Remove(req.ID) {
				c.changed()
			}
		case worker.FilePrompt:
			if c.gallery.SetPrompt(req.ID, req.Prompt) {
				c.changed()
			}
		case worker.FileSave:
			if c.OnSaved != nil {
				c.OnSaved(req.Target)
			}
		}
	case worker.Failed:
		c.fail(ev.Err)
	case worker.Finished:
		c.busy.FileOps--
		c.busyChanged()
	}
}

func (c *Controller) changed() {
	if c.OnChange != nil {
		c.OnChange()
	}
}

func (c *Controller) busyChanged() {
	if c.OnBusy != nil {
		c.OnBusy(c.busy)
	}
}

func (c *Controller) fail(err error) {
	if err == nil {
		err = fmt.Errorf("unknown failure")
	}
	n := core.Notify(err)
	c.logger.WithFields(logrus.Fields{
		"kind":   core.KindOf(err).String(),
		"detail": n.Detail,
	}).Error(n.Message)
	if c.OnError != nil {
		c.OnError(n)
	}
}
