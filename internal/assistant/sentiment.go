package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/sadaksathi/pkg/provider/llm"
)

// Sentiment is the driver's mood as judged from one utterance.
type Sentiment string

const (
	SentimentNeutral Sentiment = "neutral"
	SentimentAngry   Sentiment = "angry"
	SentimentHappy   Sentiment = "happy"
)

const sentimentPrompt = `Analyze the sentiment of this text: %q. Is it angry, happy, or neutral? Respond with a single JSON object: {"sentiment": "value"} where value is "angry", "happy", or "neutral".`

// Sentiment classifies text. Any failure, including an unparsable answer,
// yields [SentimentNeutral].
func (a *Assistant) Sentiment(ctx context.Context, text string) Sentiment {
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(sentimentPrompt, text)}},
		MaxTokens: 32,
	})
	a.recordRequest(ctx, "sentiment", err)
	if err != nil || resp == nil {
		return SentimentNeutral
	}
	return parseSentiment(resp.Content)
}

// parseSentiment reads {"sentiment": ...} from s, tolerating code fences or
// prose around the object.
func parseSentiment(s string) Sentiment {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return SentimentNeutral
	}
	var v struct {
		Sentiment string `json:"sentiment"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &v); err != nil {
		return SentimentNeutral
	}
	switch Sentiment(strings.ToLower(strings.TrimSpace(v.Sentiment))) {
	case SentimentAngry:
		return SentimentAngry
	case SentimentHappy:
		return SentimentHappy
	default:
		return SentimentNeutral
	}
}
