package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"

	"image-creator/internal/core"

	"github.com/sirupsen/logrus"
)

// FileCapacity is how many file operations may be queued at once
const FileCapacity = 8

// FileOp selects what a FileRequest does
type FileOp int

const (
	// FileDelete removes Path
	FileDelete FileOp = iota
	// FilePrompt embeds Prompt into Path
	FilePrompt
	// FileSave encodes Image to Target
	FileSave
)

func (op FileOp) String() string {
	switch op {
	case FileDelete:
		return core.OpDelete
	case FilePrompt:
		return core.OpEditPrompt
	case FileSave:
		return core.OpSave
	default:
		return "unknown"
	}
}

// FileRequest is a disk change on behalf of the gallery record ID. The
// result echoes the request so the change can be committed in memory.
type FileRequest struct {
	Op     FileOp
	ID     uint64
	Path   string
	Prompt string
	Image  image.Image
	Target string
}

// ImageWriter encodes an image to a file
type ImageWriter interface {
	WriteImage(path string, img image.Image) error
}

// FileWorker applies gallery file changes FIFO on its own goroutine, which
// also serializes metadata access to any given path.
type FileWorker struct {
	*Worker[FileRequest, FileRequest]
	store  PromptWriter
	codec  ImageWriter
	logger logrus.FieldLogger

	remove func(string) error
}

func NewFileWorker(store PromptWriter, codec ImageWriter, logger logrus.FieldLogger) *FileWorker {
	f := &FileWorker{
		store:  store,
		codec:  codec,
		logger: logger.WithField("worker", "files"),
		remove: os.Remove,
	}
	f.Worker = New("files", FileCapacity, f.apply, logger)
	return f
}

func (f *FileWorker) apply(_ context.Context, req FileRequest) (FileRequest, error) {
	op := req.Op.String()
	log := f.logger.WithFields(logrus.Fields{
		"op":   op,
		"path": req.Path,
	})

	switch req.Op {
	case FileDelete:
		if req.Path == "" {
			return req, core.E(core.StateInvariant, op, core.ErrNotPersisted)
		}
		// a file that is already gone still lets the record go
		if err := f.remove(req.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Error("Failed to delete image file")
			return req, core.E(core.TransientIO, op, err)
		}

	case FilePrompt:
		if req.Path == "" {
			return req, core.E(core.StateInvariant, op, core.ErrNotPersisted)
		}
		if err := f.store.WritePrompt(req.Path, req.Prompt); err != nil {
			return req, core.E(core.TransientIO, op, err)
		}

	case FileSave:
		if req.Image == nil {
			return req, core.E(core.StateInvariant, op, fmt.Errorf("no image to save"))
		}
		if err := f.codec.WriteImage(req.Target, req.Image); err != nil {
			return req, core.E(core.TransientIO, op, err)
		}
		log = log.WithField("target", req.Target)

	default:
		return req, core.E(core.StateInvariant, op, fmt.Errorf("unknown file operation %d", req.Op))
	}

	log.Info("File operation done")
	return req, nil
}
