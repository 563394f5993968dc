package http

// This file parses the two request bodies the capture page sends: the JSON
// preview request and the multipart submission.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"pettycash/internal/core"
	"pettycash/internal/ocr"
)

var (
	errTooLarge     = errors.New("request too large")
	errBadRequest   = errors.New("malformed request")
	// errMissingImage is a request without any image payload. A payload that
	// is present but does not decode is ocr.ErrInvalidImage instead.
	errMissingImage = fmt.Errorf("%w: missing image", errBadRequest)
)

// submissionFields maps form field names to the submission they fill.
var submissionFields = []struct {
	name string
	set  func(*core.Submission, string)
}{
	{"name", func(s *core.Submission, v string) { s.Name = v }},
	{"idNumber", func(s *core.Submission, v string) { s.IDNumber = v }},
	{"position", func(s *core.Submission, v string) { s.Position = v }},
	{"division", func(s *core.Submission, v string) { s.Division = v }},
	{"teamHead", func(s *core.Submission, v string) { s.TeamHead = v }},
	{"month", func(s *core.Submission, v string) { s.Month = v }},
	{"pid", func(s *core.Submission, v string) { s.PID = v }},
}

type ocrRequest struct {
	Image string `json:"image"`
}

// parseOCRRequest reads {"image": "<data URL or base64>"}.
func parseOCRRequest(r *http.Request) (string, error) {
	var req ocrRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", errTooLarge
		}
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if strings.TrimSpace(req.Image) == "" {
		return "", errMissingImage
	}
	return req.Image, nil
}

// parseSubmission reads the multipart reimbursement form. The receipt comes
// from the "image" file part; a data URL in "imageData" is accepted when no
// file was attached.
func parseSubmission(r *http.Request, maxImageBytes int64) (core.Submission, []byte, error) {
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return core.Submission{}, nil, errTooLarge
		}
		return core.Submission{}, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	var sub core.Submission
	for _, f := range submissionFields {
		f.set(&sub, sanitizeInput(r.FormValue(f.name)))
	}

	file, _, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		image, err := readImage(file, maxImageBytes)
		return sub, image, err
	case errors.Is(err, http.ErrMissingFile):
		if data := r.FormValue("imageData"); data != "" {
			image, err := ocr.DecodeImage(data)
			if err == nil && int64(len(image)) > maxImageBytes {
				return sub, nil, errTooLarge
			}
			return sub, image, err
		}
		return sub, nil, errMissingImage
	default:
		return sub, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
}

func readImage(file multipart.File, maxImageBytes int64) ([]byte, error) {
	image, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", errBadRequest, err)
	}
	if int64(len(image)) > maxImageBytes {
		return nil, errTooLarge
	}
	return image, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
