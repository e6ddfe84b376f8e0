package pipeline

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/andresmejia3/watchtower/internal/aggregate"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// MetadataWriter writes one JSON object per line.
type MetadataWriter struct {
	w      *bufio.Writer
	closer io.Closer
}

// CreateMetadata truncates or creates path, making its directory if needed.
func CreateMetadata(path string) (*MetadataWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &MetadataWriter{w: bufio.NewWriter(f), closer: f}, nil
}

func NewMetadataWriter(w io.Writer) *MetadataWriter {
	m := &MetadataWriter{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		m.closer = c
	}
	return m
}

func (m *MetadataWriter) WriteRecord(v any) error {
	line, err := jsonAPI.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := m.w.Write(line); err != nil {
		return err
	}
	return m.w.WriteByte('\n')
}

type summaryLine struct {
	Summary aggregate.Summary `json:"summary"`
}

// WriteSummary writes the final {"summary": {...}} line.
func (m *MetadataWriter) WriteSummary(s aggregate.Summary) error {
	return m.WriteRecord(summaryLine{Summary: s})
}

// Close flushes buffered lines and closes the underlying file.
func (m *MetadataWriter) Close() error {
	err := m.w.Flush()
	if m.closer != nil {
		if cerr := m.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
