// Package ocr defines the text recognition collaborator and the image
// payload decoding shared by its callers.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// Recognizer turns image bytes into ordered text fragments. The first
// fragment is conventionally the full page text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]string, error)
}

var (
	// ErrNoText is returned when the engine produced no usable response.
	ErrNoText = errors.New("no text recognized")
	// ErrInvalidImage is returned for payloads that are not decodable images.
	ErrInvalidImage = errors.New("invalid image data")
)

// DecodeImage accepts either a data URL ("data:image/png;base64,...") as
// produced by canvas.toDataURL, or bare base64 in standard or URL alphabet,
// padded or not.
func DecodeImage(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		meta, data, ok := strings.Cut(payload, ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, ErrInvalidImage
		}
		payload = data
	}
	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrInvalidImage
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(payload); err == nil {
			if err := CheckImage(b); err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	return nil, ErrInvalidImage
}

// CheckImage rejects empty payloads and payloads sniffed as text. Formats the
// sniffer does not know (HEIC, for one) are let through to the engine.
func CheckImage(b []byte) error {
	if len(b) == 0 {
		return ErrInvalidImage
	}
	ct := http.DetectContentType(b)
	if strings.HasPrefix(ct, "text/") || ct == "application/pdf" {
		return ErrInvalidImage
	}
	return nil
}

// ContentType sniffs the image MIME type, defaulting to image/jpeg.
func ContentType(b []byte) string {
	ct := http.DetectContentType(b)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

// Static returns the same text for every image. It backs local development
// and tests where no recognition service is reachable.
type Static struct {
	Text string
}

func (s Static) Recognize(_ context.Context, image []byte) ([]string, error) {
	if len(image) == 0 {
		return nil, ErrInvalidImage
	}
	if strings.TrimSpace(s.Text) == "" {
		return nil, nil
	}
	return []string{s.Text}, nil
}
