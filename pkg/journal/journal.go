// Package journal records per-frame sequencing and calibration metadata to a
// Parquet file for offline inspection of a streaming session. Sample data is
// not journaled.
package journal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/segmentio/parquet-go"
)

// Entry is one channel of one admitted frame.
type Entry struct {
	TimeUnixNano int64   `parquet:"time_unix_ns"`
	Seq          uint64  `parquet:"seq"`
	Channel      uint64  `parquet:"channel"`
	SampleCount  uint64  `parquet:"sample_count"`
	PeriodFs     int64   `parquet:"period_fs"`
	Digital      bool    `parquet:"digital"`
	Scale        float32 `parquet:"scale"`
	Offset       float32 `parquet:"offset"`
	TrigPhase    float32 `parquet:"trig_phase"`
	Clipping     bool    `parquet:"clipping"`
	FirstSample  int32   `parquet:"first_sample"`
}

// Writer appends entries; safe for concurrent use. A nil *Writer discards.
type Writer struct {
	mu     sync.Mutex
	file   io.Closer
	writer *parquet.GenericWriter[Entry]
}

// Create opens path for writing, with meta stored as key/value metadata.
func Create(path string, meta map[string]string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}
	return NewWriter(f, meta), nil
}

// NewWriter journals to w and closes it on Close.
func NewWriter(w io.WriteCloser, meta map[string]string) *Writer {
	var opts []parquet.WriterOption
	for k, v := range meta {
		opts = append(opts, parquet.KeyValueMetadata(k, v))
	}
	return &Writer{
		file:   w,
		writer: parquet.NewGenericWriter[Entry](w, opts...),
	}
}

func (j *Writer) Append(entries ...Entry) error {
	if j == nil || len(entries) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.writer.Write(entries); err != nil {
		return fmt.Errorf("journal write: %w", err)
	}
	return nil
}

func (j *Writer) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writer.Close(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}
