package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mydiary/ai-service/internal/domain"
)

const supabaseDefaultTimeout = 30 * time.Second

type SupabaseOptions struct {
	BaseURL    string
	ServiceKey string
	Bucket     string
	HTTPClient *http.Client
}

// SupabaseStore uploads artifacts to a Supabase Storage bucket and
// returns their public object URL.
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	bucket     string
	client     *http.Client
}

func NewSupabaseStore(opts SupabaseOptions) (*SupabaseStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("supabase base url is required")
	}
	if strings.TrimSpace(opts.ServiceKey) == "" {
		return nil, errors.New("supabase service key is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("supabase bucket is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: supabaseDefaultTimeout}
	}
	return &SupabaseStore{
		baseURL:    baseURL,
		serviceKey: strings.TrimSpace(opts.ServiceKey),
		bucket:     bucket,
		client:     client,
	}, nil
}

// Upload stores the bytes at the given key inside the bucket.
func (s *SupabaseStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, cleanKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrUploadFailed, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.serviceKey)
	httpReq.Header.Set("Content-Type", contentType)
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: storage status %d: %s", domain.ErrUploadFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return s.PublicURL(cleanKey), nil
}

// PublicURL returns the unauthenticated object URL for a stored key.
func (s *SupabaseStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key)
}

var _ Uploader = (*SupabaseStore)(nil)
