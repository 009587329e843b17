// Package export renders thread transcripts as HTML or PDF.
package export

import (
	"encoding/json"
	"errors"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Transcript is everything a thread export shows.
type Transcript struct {
	ThreadID   string
	ThreadName string
	ThreadURL  string
	GroupName  string
	Resolved   bool
	ExportedAt time.Time
	Messages   []Entry
}

type Entry struct {
	AuthorName string
	Type       string
	Content    json.RawMessage
	CreatedAt  time.Time
	Edited     bool
	Deleted    bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
