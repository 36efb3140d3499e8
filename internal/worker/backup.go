package worker

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"image-creator/internal/core"
	imageio "image-creator/internal/io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BackupCapacity is how many backups may be queued at once
const BackupCapacity = 8

// BackupRequest names the copy; an empty Name gets a random one
type BackupRequest struct {
	Image image.Image
	Name  string
}

// BackupWorker writes durable JPEG copies into a backup directory. Requests
// are processed FIFO on their own goroutine.
type BackupWorker struct {
	*Worker[BackupRequest, string]
	dir    string
	delay  time.Duration
	loader *imageio.ImageLoader
	logger logrus.FieldLogger
}

func NewBackupWorker(dir string, delay time.Duration, loader *imageio.ImageLoader, logger logrus.FieldLogger) *BackupWorker {
	b := &BackupWorker{
		dir:    dir,
		delay:  delay,
		loader: loader,
		logger: logger.WithField("worker", "backup"),
	}
	b.Worker = New("backup", BackupCapacity, b.backup, logger)
	return b
}

func (b *BackupWorker) backup(ctx context.Context, req BackupRequest) (string, error) {
	if req.Image == nil {
		return "", core.E(core.StateInvariant, core.OpBackup, fmt.Errorf("no image to back up"))
	}

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return "", core.E(core.TransientIO, core.OpBackup, ctx.Err())
		}
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", core.E(core.TransientIO, core.OpBackup, fmt.Errorf("failed to create backup directory: %w", err))
	}

	name := strings.TrimSuffix(filepath.Base(req.Name), filepath.Ext(req.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = uuid.New().String()
	}
	path := filepath.Join(b.dir, name+".jpg")

	mat, err := imageio.FromImage(req.Image)
	if err != nil {
		return "", core.E(core.FileIntegrity, core.OpBackup, err)
	}
	defer mat.Close()

	data, err := b.loader.EncodeImage(".jpg", mat)
	if err != nil {
		return "", core.E(core.FileIntegrity, core.OpBackup, err)
	}

	if err := writeDurable(path, data); err != nil {
		return "", core.E(core.TransientIO, core.OpBackup, err)
	}

	b.logger.WithFields(logrus.Fields{
		"path":  path,
		"bytes": len(data),
	}).Info("Backup written")
	return path, nil
}

func writeDurable(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}
