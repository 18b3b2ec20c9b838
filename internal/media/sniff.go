// Package media detects audio content types from bytes and probes durations.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/audioflow/audioflow/internal/apperr"
)

// SniffLimit is the number of leading bytes inspected by Sniff.
const SniffLimit = 3072

// ErrUnsupportedMediaType is returned when the content is not a supported audio format.
var ErrUnsupportedMediaType = fmt.Errorf("%w: unsupported media type", apperr.ErrValidation)

// Detected is the outcome of a successful sniff.
type Detected struct {
	Mime      string
	Extension string
}

var mimeExtensions = map[string]string{
	"audio/mpeg":      "mp3",
	"audio/mp3":       "mp3",
	"audio/wav":       "wav",
	"audio/x-wav":     "wav",
	"audio/vnd.wave":  "wav",
	"audio/wave":      "wav",
	"audio/ogg":       "ogg",
	"application/ogg": "ogg",
	"audio/flac":      "flac",
	"audio/x-flac":    "flac",
}

func init() {
	mimetype.SetLimit(SniffLimit)
}

// Sniff detects the audio type of r from its first SniffLimit bytes. The returned
// reader replays the inspected prefix followed by the rest of r.
func Sniff(r io.Reader) (Detected, io.Reader, error) {
	if r == nil {
		return Detected{}, nil, fmt.Errorf("%w: empty content", ErrUnsupportedMediaType)
	}
	header := make([]byte, SniffLimit)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Detected{}, nil, fmt.Errorf("read content header: %w", err)
	}
	header = header[:n]
	replay := io.MultiReader(bytes.NewReader(header), r)
	if n == 0 {
		return Detected{}, replay, fmt.Errorf("%w: empty content", ErrUnsupportedMediaType)
	}

	// Only the most specific match counts: an Ogg container carrying Theora
	// is video/ogg and must not fall back to its application/ogg parent.
	mime := NormalizeMime(mimetype.Detect(header).String())
	if ext, ok := mimeExtensions[mime]; ok {
		return Detected{Mime: mime, Extension: ext}, replay, nil
	}
	return Detected{}, replay, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mime)
}

// ExtensionFor maps a MIME type to the canonical stored extension.
func ExtensionFor(mime string) (string, bool) {
	ext, ok := mimeExtensions[NormalizeMime(mime)]
	return ext, ok
}

// NormalizeMime normalizes MIME to lowercase token form.
func NormalizeMime(raw string) string {
	mime := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}
