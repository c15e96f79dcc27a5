package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mydiary/ai-service/internal/domain"
)

type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIBuilder generates illustration prompts via the chat completions API.
type OpenAIBuilder struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

const (
	openAIDefaultTimeout = 15 * time.Second
	defaultOpenAIModel   = "gpt-4o-mini"
)

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAIBuilder(opts OpenAIOptions) (*OpenAIBuilder, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIBuilder{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
	}, nil
}

// BuildPrompt asks the model for one concise Stable Diffusion prompt
// describing the diary entry.
func (o *OpenAIBuilder) BuildPrompt(ctx context.Context, diaryText string) (string, error) {
	payload := openAIChatRequest{
		Model: o.model,
		Messages: []openAIMessage{{
			Role:    "user",
			Content: buildTemplate(diaryText),
		}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("%w: encode request: %v", domain.ErrGenerationFailed, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrGenerationFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: openai status %d", domain.ErrGenerationFailed, resp.StatusCode)
	}
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrGenerationFailed, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", domain.ErrGenerationFailed)
	}
	prompt := strings.TrimSpace(out.Choices[0].Message.Content)
	if prompt == "" {
		return "", fmt.Errorf("%w: blank prompt", domain.ErrGenerationFailed)
	}
	return prompt, nil
}

func buildTemplate(diaryText string) string {
	sb := &strings.Builder{}
	sb.WriteString("You are an illustration prompt generator for a cartoon-style diary app.\n\n")
	sb.WriteString("Generate ONE concise sentence prompt for Stable Diffusion 3.\n\n")
	sb.WriteString("Style:\n")
	sb.WriteString("- modern cartoon illustration\n")
	sb.WriteString("- graphic novel style\n")
	sb.WriteString("- clean bold ink outlines\n")
	sb.WriteString("- cel-shaded coloring\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- human with normal proportions\n")
	sb.WriteString("- one clear scene\n")
	sb.WriteString("- no text, watermark, logo\n")
	sb.WriteString("- avoid photorealism, anime, chibi\n\n")
	fmt.Fprintf(sb, "Diary Entry:\n\"\"\"%s\"\"\"\n", diaryText)
	return sb.String()
}

var _ Builder = (*OpenAIBuilder)(nil)
