package prompt

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StaticBuilder produces a deterministic prompt without calling any
// upstream model. It exists for development and test environments where
// no OpenAI key is configured.
type StaticBuilder struct{}

func NewStaticBuilder() *StaticBuilder {
	return &StaticBuilder{}
}

func (s *StaticBuilder) BuildPrompt(ctx context.Context, diaryText string) (string, error) {
	c := cases.Title(language.Und)
	scene := strings.TrimSpace(diaryText)
	if len(scene) > 60 {
		scene = strings.TrimSpace(scene[:60])
	}
	if scene == "" {
		scene = "A Quiet Day"
	}
	return fmt.Sprintf(
		"%s, modern cartoon illustration, graphic novel style, clean bold ink outlines, cel-shaded coloring",
		c.String(scene),
	), nil
}

var _ Builder = (*StaticBuilder)(nil)
