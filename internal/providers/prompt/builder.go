package prompt

import "context"

// Builder turns a raw diary entry into a single diffusion-ready prompt.
type Builder interface {
	BuildPrompt(ctx context.Context, diaryText string) (string, error)
}
