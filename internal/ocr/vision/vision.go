// Package vision recognizes receipt text with the Cloud Vision
// TEXT_DETECTION feature.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	goption "google.golang.org/api/option"
	gvision "google.golang.org/api/vision/v1"

	"pettycash/internal/gcp"
	"pettycash/internal/ocr"
)

var _ ocr.Recognizer = (*Client)(nil)

type Client struct {
	svc *gvision.Service
}

// New creates a Vision client authenticated with creds.
func New(ctx context.Context, creds gcp.Credentials) (*Client, error) {
	opts, err := creds.ClientOptions(ctx, gvision.CloudVisionScope)
	if err != nil {
		return nil, fmt.Errorf("google credentials: %w", err)
	}
	return NewWithOptions(ctx, opts...)
}

func NewWithOptions(ctx context.Context, opts ...goption.ClientOption) (*Client, error) {
	svc, err := gvision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// Recognize returns every text annotation description in response order: the
// full page text first, then the individual words. An image without text
// yields no fragments and no error.
func (c *Client) Recognize(ctx context.Context, image []byte) ([]string, error) {
	if len(image) == 0 {
		return nil, ocr.ErrInvalidImage
	}
	req := &gvision.BatchAnnotateImagesRequest{
		Requests: []*gvision.AnnotateImageRequest{{
			Image:    &gvision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*gvision.Feature{{Type: "TEXT_DETECTION"}},
		}},
	}
	resp, err := c.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("annotate image: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, ocr.ErrNoText
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return nil, fmt.Errorf("annotate image: %w", errors.New(r.Error.Message))
	}
	fragments := make([]string, 0, len(r.TextAnnotations))
	for _, a := range r.TextAnnotations {
		if a.Description != "" {
			fragments = append(fragments, a.Description)
		}
	}
	return fragments, nil
}
