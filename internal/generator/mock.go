package generator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// MockClient produces solid JPEG images locally
type MockClient struct {
	// Control behavior
	Images      int           // Images per Generate call
	Width       int           // Image width
	Height      int           // Image height
	Delay       time.Duration // How long Generate takes
	ShouldFail  bool          // Generate fails
	FailAfter   int           // Fetch fails from this index on, when positive
	FailMessage string        // Custom failure message

	// Track calls for assertions
	GenerateCalls []string
	FetchCalls    int

	mu sync.Mutex
}

func NewMockClient() *MockClient {
	return &MockClient{
		Images: 4,
		Width:  64,
		Height: 64,
	}
}

func (m *MockClient) Generate(ctx context.Context, prompt string) ([]Ref, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, prompt)
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.ShouldFail {
		return nil, m.failure()
	}

	refs := make([]Ref, m.Images)
	for i := range refs {
		refs[i] = Ref{URL: fmt.Sprintf("mock://image/%d", i)}
	}
	return refs, nil
}

func (m *MockClient) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	m.mu.Lock()
	index := m.FetchCalls
	m.FetchCalls++
	m.mu.Unlock()

	if m.FailAfter > 0 && index >= m.FailAfter {
		return nil, m.failure()
	}
	if ref.Data != nil {
		return ref.Data, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	fill := color.RGBA{R: uint8(40 * index), G: 120, B: 200, A: 255}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Calls returns the prompts Generate was called with
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.GenerateCalls...)
}

func (m *MockClient) failure() error {
	if m.FailMessage != "" {
		return fmt.Errorf("%s", m.FailMessage)
	}
	return fmt.Errorf("mock client configured to fail")
}
