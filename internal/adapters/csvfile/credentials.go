// Package csvfile reads tenant credentials from and writes tables to local CSV
// files.
package csvfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

const (
	columnClientID     = "client_id"
	columnClientSecret = "client_secret"
)

var ErrEmptyFile = errors.New("credentials file is empty")

// CredentialFile loads one credential per row from a CSV file with at least
// client_id and client_secret columns.
type CredentialFile struct {
	path     string
	logger   *zap.Logger
	validate *validator.Validate
}

func NewCredentialFile(path string, logger *zap.Logger) *CredentialFile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialFile{
		path:     path,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Load returns the valid rows in file order. Rows without a client id or
// secret are logged and skipped.
func (c *CredentialFile) Load(ctx context.Context) ([]domain.Credential, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("open credentials file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(stripUTF8BOM(bufio.NewReader(f)))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", ErrEmptyFile, c.path)
		}
		return nil, fmt.Errorf("read credentials header: %w", err)
	}
	index := headerIndex(header)

	var out []domain.Credential
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read credentials row %d: %w", line, err)
		}

		cred := domain.Credential{
			ClientID:     field(row, index, columnClientID),
			ClientSecret: field(row, index, columnClientSecret),
		}
		if err := c.validate.Struct(cred); err != nil {
			c.logger.Error("skipping credentials row",
				zap.String("file", c.path),
				zap.Int("line", line),
				zap.String("client_id", cred.Redacted()),
				zap.Error(missingColumns(err)),
			)
			continue
		}
		out = append(out, cred)
	}
	return out, nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

func headerIndex(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, name := range header {
		m[strings.TrimSpace(name)] = i
	}
	return m
}

func field(row []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func missingColumns(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "ClientID":
			names = append(names, columnClientID)
		case "ClientSecret":
			names = append(names, columnClientSecret)
		default:
			names = append(names, fe.Field())
		}
	}
	return fmt.Errorf("missing required column: %s", strings.Join(names, ", "))
}
