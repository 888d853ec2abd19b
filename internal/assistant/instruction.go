package assistant

import (
	"context"
	"fmt"
	"strings"
)

// SystemInstruction builds the system prompt for sentiment in lang: the tone
// specific base instruction followed by the driving context.
func (a *Assistant) SystemInstruction(ctx context.Context, sentiment Sentiment, lang string) string {
	tr := a.translate(lang)

	key := "aiSystemInstruction"
	switch sentiment {
	case SentimentAngry:
		key = "aiSystemInstruction_angry"
	case SentimentHappy:
		key = "aiSystemInstruction_happy"
	}

	var dc DriveContext
	if a.context != nil {
		dc = a.context(ctx)
	}

	parts := []string{fmt.Sprintf("Current time is %s.", a.now().Format("15:04"))}
	if dc.Location != nil {
		parts = append(parts, fmt.Sprintf("The user is at latitude %.4f, longitude %.4f.", dc.Location.Lat, dc.Location.Lon))
	}
	if w := strings.TrimSpace(dc.Weather); w != "" {
		parts = append(parts, fmt.Sprintf("The weather is %s.", w))
	}

	return tr.T(key, nil) + " " + tr.T("aiSystemInstruction_withContext", nil) + " " + strings.Join(parts, " ")
}
