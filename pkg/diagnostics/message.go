package diagnostics

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var kindEmoji = map[string]string{
	"ChainBroken":             ":rotating_light:",
	"PreflightFailure":        ":x:",
	"ComponentStartupFailure": ":boom:",
}

// BuildFatalMessage renders one FatalEvent as Block Kit blocks.
func BuildFatalMessage(ev FatalEvent) []goslack.Block {
	emoji := kindEmoji[ev.Kind]
	if emoji == "" {
		emoji = ":warning:"
	}

	header := fmt.Sprintf("%s *grace-core fatal event: %s*", emoji, ev.Kind)
	body := fmt.Sprintf("*Component:* %s\n*Correlation ID:* %s\n\n%s",
		ev.Component, ev.CorrelationID, truncate(ev.Message))

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}
}

func truncate(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — see audit log for full detail)_"
}
