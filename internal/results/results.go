// Package results renders per-run CSV artifacts and archives them to the
// configured blob store under content-addressed names.
package results

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"magharvest/internal/crawl"
	"magharvest/internal/forum"
	"magharvest/internal/storage"
	"magharvest/internal/task"
)

// Clock supplies the timestamps embedded in run file names.
type Clock interface {
	Now() time.Time
}

// Hasher digests file contents for content-addressed archive names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

var csvHeader = []string{
	"fid", "tid", "url", "title", "status", "message",
	"magnet_count", "magnets", "crawl_time",
}

// Spreadsheet apps need the BOM to detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const (
	fileTimestampLayout = "20060102_150405"
	crawlTimeLayout     = "2006-01-02 15:04:05"
)

// Config controls where run files land.
type Config struct {
	// Dir is the directory run files are written to. Created on first write.
	Dir string
}

// Writer produces one CSV file per run and uploads a content-addressed copy
// to the archive store.
type Writer struct {
	dir     string
	archive storage.BlobStore
	hasher  Hasher
	clock   Clock
	logger  *zap.Logger
}

// NewWriter validates the configuration and builds a Writer. A nil archive
// store disables archiving.
func NewWriter(cfg Config, archive storage.BlobStore, hasher Hasher, clk Clock, logger *zap.Logger) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("results dir is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if archive == nil {
		archive = storage.NoOpBlobStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		dir:     cfg.Dir,
		archive: archive,
		hasher:  hasher,
		clock:   clk,
		logger:  logger.Named("results"),
	}, nil
}

// WriteRun renders the records as CSV, writes the run file under the data
// directory and archives a copy named by its content digest. An archive
// failure does not fail the run; the local artifact already exists and the
// failure is logged instead.
func (w *Writer) WriteRun(ctx context.Context, mode string, records []forum.Record) (crawl.Artifact, error) {
	data, err := renderCSV(records)
	if err != nil {
		return crawl.Artifact{}, err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return crawl.Artifact{}, fmt.Errorf("create results dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.csv", filePrefix(mode), w.clock.Now().UTC().Format(fileTimestampLayout))
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return crawl.Artifact{}, fmt.Errorf("write run file: %w", err)
	}
	w.logger.Info("run results written",
		zap.String("path", path),
		zap.Int("records", len(records)))

	art := crawl.Artifact{Path: path}
	digest, err := w.hasher.Hash(data)
	if err != nil {
		w.logger.Warn("hash run file", zap.String("path", path), zap.Error(err))
		return art, nil
	}
	uri, err := w.archive.PutObject(ctx, digest+".csv", "text/csv; charset=utf-8", bytes.NewReader(data))
	if err != nil {
		w.logger.Warn("archive run file", zap.String("path", path), zap.Error(err))
		return art, nil
	}
	if uri != "" {
		art.ArchiveURI = uri
		w.logger.Info("run results archived", zap.String("uri", uri))
	}
	return art, nil
}

// filePrefix keeps the run file naming operators already sort and glob by.
func filePrefix(mode string) string {
	switch mode {
	case string(task.ModeFullSubmit):
		return "full_crawl"
	case string(task.ModeIncremental):
		return "incremental_crawl"
	default:
		return mode
	}
}

func renderCSV(records []forum.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		status := "failed"
		if rec.Success {
			status = "success"
		}
		row := []string{
			rec.SectionID,
			string(rec.ThreadID),
			rec.URL,
			rec.Title,
			status,
			rec.Message,
			strconv.Itoa(len(rec.Magnets)),
			strings.Join(rec.Magnets, ";"),
			rec.CrawledAt.UTC().Format(crawlTimeLayout),
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
