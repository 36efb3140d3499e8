// Image generation capability and its implementations
package generator

import (
	"context"
	"errors"
)

// ErrNoImages is returned when the service answers without any image
var ErrNoImages = errors.New("generation returned no images")

// Ref points at one generated image. Data is set when the service returned
// the payload inline; otherwise URL must be fetched.
type Ref struct {
	URL  string
	Data []byte
}

// Client generates images for a prompt. Generate is called once per batch and
// Fetch once per returned reference, in order.
type Client interface {
	Generate(ctx context.Context, prompt string) ([]Ref, error)
	Fetch(ctx context.Context, ref Ref) ([]byte, error)
}

var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*MockClient)(nil)
)
