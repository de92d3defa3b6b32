// Package emitter writes one serialized Sample Record per pass to the
// output stream.
package emitter

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/worldland/gpustats/internal/record"
)

// KeyTimestamp holds the pass start as fractional seconds since the Unix epoch
const KeyTimestamp = "_timestamp"

// Format selects the wire encoding of the record stream
type Format string

const (
	// FormatJSON writes one JSON object per line, keys in lexicographic order
	FormatJSON Format = "json"
	// FormatCBOR writes a CBOR sequence (RFC 8742) of deterministic maps
	FormatCBOR Format = "cbor"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCBOR:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown output format %q (want %q or %q)", s, FormatJSON, FormatCBOR)
}

// Emitter serializes records to w
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

func New(w io.Writer, format Format) *Emitter {
	if format == "" {
		format = FormatJSON
	}
	return &Emitter{w: w, format: format}
}

// Timestamp converts t to fractional seconds since the Unix epoch
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Emit stamps rec with at and writes it as a single frame. An error means
// the record stream is broken and is fatal to the caller.
func (e *Emitter) Emit(rec record.Record, at time.Time) error {
	rec.Set(KeyTimestamp, record.Float(Timestamp(at)))

	var data []byte
	var err error
	switch e.format {
	case FormatCBOR:
		data, err = rec.MarshalCBOR()
	default:
		data, err = rec.MarshalJSON()
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
