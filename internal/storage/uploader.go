package storage

import "context"

// Uploader persists generated artifact bytes and returns a public URL the
// gateway can hand to clients.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
