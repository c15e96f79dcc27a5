package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mydiary/ai-service/internal/domain"
)

// Generator produces raw PNG bytes for a prompt. Init must succeed once
// before the first Generate call; it owns the expensive model-load step.
type Generator interface {
	Init(ctx context.Context) error
	Ready() bool
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Diffusion parameters tuned for cartoon-style diary illustrations.
const (
	negativePrompt = "photorealistic, realistic, 3d render, " +
		"ugly, low quality, blurry, distorted, disfigured, " +
		"text, logo, watermark, caption, nsfw"

	sdLoadTimeout = 5 * time.Minute
)

type SDServerOptions struct {
	BaseURL    string
	Steps      int
	Guidance   float64
	Width      int
	Height     int
	HTTPClient *http.Client
}

// SDServer drives a Stable Diffusion sidecar that keeps the pipeline
// resident on the accelerator. The worker loads the model once per
// process lifetime and reuses it for every job until idle shutdown.
type SDServer struct {
	baseURL  string
	steps    int
	guidance float64
	width    int
	height   int
	client   *http.Client
	ready    bool
}

type sdLoadResponse struct {
	Loaded bool   `json:"loaded"`
	Device string `json:"device"`
	Error  string `json:"error"`
}

type sdGenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"num_inference_steps"`
	Guidance       float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
}

type sdGenerateResponse struct {
	Image string `json:"image"`
	Error string `json:"error"`
}

func NewSDServer(opts SDServerOptions) (*SDServer, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("sd server base url is required")
	}
	steps := opts.Steps
	if steps <= 0 {
		steps = 16
	}
	guidance := opts.Guidance
	if guidance <= 0 {
		guidance = 6.0
	}
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = 768
	}
	if height <= 0 {
		height = 768
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: sdLoadTimeout}
	}
	return &SDServer{
		baseURL:  baseURL,
		steps:    steps,
		guidance: guidance,
		width:    width,
		height:   height,
		client:   client,
	}, nil
}

// Init asks the sidecar to load the model onto the accelerator. Called
// once at worker startup; failure means the worker must not start its loop.
func (s *SDServer) Init(ctx context.Context) error {
	if s.ready {
		return nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/load", nil)
	if err != nil {
		return fmt.Errorf("%w: build load request: %v", domain.ErrResourceUnavailable, err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrResourceUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: sd server status %d", domain.ErrResourceUnavailable, resp.StatusCode)
	}
	var out sdLoadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode load response: %v", domain.ErrResourceUnavailable, err)
	}
	if !out.Loaded {
		msg := out.Error
		if msg == "" {
			msg = "model not loaded"
		}
		return fmt.Errorf("%w: %s", domain.ErrResourceUnavailable, msg)
	}
	s.ready = true
	return nil
}

func (s *SDServer) Ready() bool {
	return s.ready
}

// Generate renders one PNG for the prompt.
func (s *SDServer) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if !s.ready {
		return nil, fmt.Errorf("%w: model not initialized", domain.ErrGenerationFailed)
	}
	payload := sdGenerateRequest{
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		Steps:          s.steps,
		Guidance:       s.guidance,
		Width:          s.width,
		Height:         s.height,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrGenerationFailed, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/generate", &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrGenerationFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: sd server status %d", domain.ErrGenerationFailed, resp.StatusCode)
	}
	var out sdGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrGenerationFailed, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrGenerationFailed, out.Error)
	}
	data, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image payload: %v", domain.ErrGenerationFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", domain.ErrGenerationFailed)
	}
	return data, nil
}

var _ Generator = (*SDServer)(nil)
