package csvfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

type TableWriter struct {
	logger *zap.Logger
}

func NewTableWriter(logger *zap.Logger) *TableWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableWriter{logger: logger}
}

// WriteTable writes table as CSV with a header row, creating parent
// directories. An existing file is replaced.
func (w *TableWriter) WriteTable(ctx context.Context, path string, table *domain.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := table.EncodeCSV(bw); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode table: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}

	w.logger.Info("table written", zap.String("path", path), zap.Int("records", table.Len()))
	return nil
}
