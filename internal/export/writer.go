package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dental-bot/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Artifact is a finished export on disk, ready for delivery. Path is unique
// per export; FileName is the name the document is presented under.
type Artifact struct {
	Path     string
	FileName string
	Size     int64
	Rows     int

	snapshot string
}

// Remove deletes the export once it has been delivered.
func (a *Artifact) Remove() error {
	if a.snapshot != "" {
		return os.RemoveAll(a.snapshot)
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Writer writes visit exports into a directory.
type Writer struct {
	dir      string
	fileName string
	logger   *zap.Logger
}

// NewWriter 创建导出器; fileName defaults to patients_export.xlsx.
func NewWriter(dir, fileName string, logger *zap.Logger) *Writer {
	if fileName == "" {
		fileName = "patients_export.xlsx"
	}
	return &Writer{dir: dir, fileName: fileName, logger: logger}
}

// Export writes the workbook into its own snapshot directory <dir>/<uuid>/
// under the configured file name. The document is written to a temp file and
// renamed into place, so Path only ever holds a complete workbook and
// concurrent exports never share a file.
func (w *Writer) Export(ctx context.Context, visits []models.PatientVisit) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshot := filepath.Join(w.dir, uuid.NewString())
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	target := filepath.Join(snapshot, w.fileName)
	tmp, err := os.CreateTemp(snapshot, ".*.xlsx.tmp")
	if err != nil {
		os.RemoveAll(snapshot)
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.RemoveAll(snapshot)
		}
	}()

	if err := WriteVisitsWorkbook(tmp, visits); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return nil, fmt.Errorf("failed to move export into place: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("failed to stat export: %w", err)
	}
	committed = true

	w.logger.Info("Visits exported",
		zap.String("path", target),
		zap.Int("rows", len(visits)),
		zap.Int64("size", info.Size()),
	)
	return &Artifact{
		Path:     target,
		FileName: w.fileName,
		Size:     info.Size(),
		Rows:     len(visits),
		snapshot: snapshot,
	}, nil
}
