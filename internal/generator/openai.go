package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

const (
	DefaultModel     = string(openai.ImageModelDallE2)
	maxDownloadBytes = 64 << 20
)

// ErrTooLarge is returned when a downloaded payload exceeds the size limit
var ErrTooLarge = errors.New("image payload exceeds size limit")

// Settings configures the OpenAI images client
type Settings struct {
	APIKey     string
	BaseURL    string
	Model      string
	Images     int
	MaxRetries int
	Timeout    time.Duration
}

// OpenAIClient implements Client with the OpenAI images API
type OpenAIClient struct {
	client openai.Client
	http   *http.Client
	model  string
	images int
	logger logrus.FieldLogger
}

func NewOpenAIClient(cfg Settings, logger logrus.FieldLogger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; set TOKEN")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Images <= 0 {
		cfg.Images = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		http:   httpClient,
		model:  cfg.Model,
		images: cfg.Images,
		logger: logger,
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) ([]Ref, error) {
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(c.model),
		N:      openai.Int(int64(c.images)),
	}
	// gpt-image models always answer with base64 and reject the parameter
	if strings.HasPrefix(c.model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	c.logger.WithFields(logrus.Fields{
		"model":  c.model,
		"images": c.images,
	}).Info("Requesting images")

	resp, err := c.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("image generation request failed: %w", err)
	}

	refs := make([]Ref, 0, len(resp.Data))
	for i, img := range resp.Data {
		switch {
		case img.B64JSON != "":
			data, err := base64.StdEncoding.DecodeString(img.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("failed to decode image %d: %w", i, err)
			}
			refs = append(refs, Ref{Data: data})
		case img.URL != "":
			refs = append(refs, Ref{URL: img.URL})
		default:
			c.logger.WithField("index", i).Warn("Image without payload skipped")
		}
	}

	if len(refs) == 0 {
		return nil, ErrNoImages
	}
	return refs, nil
}

func (c *OpenAIClient) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	if ref.Data != nil {
		return ref.Data, nil
	}
	return Download(ctx, c.http, ref.URL)
}

// Download fetches url with client, rejecting non-200 answers and payloads
// larger than 64 MiB
func Download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	return download(ctx, client, url, maxDownloadBytes)
}

func download(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	if url == "" {
		return nil, errors.New("empty image url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
