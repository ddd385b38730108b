package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
)

// djPrompt asks the model for a newline separated "Artist - Song Title"
// list. %s is the member's request.
const djPrompt = `
You are a music recommendation AI that powers a Discord bot. Your primary function is to interpret a user's unstructured text query and generate a playlist.

### RULES:
1.  **Analyze the query:** Identify the era, genre, and/or vibe from the user's text. If the user names a single song, put it first.
2.  **Song Count:** Generate exactly 10 songs unless the user specifies a different amount.
3.  **Output Format:** Your response MUST be a plain text list. Each song must be on a new line and formatted EXACTLY as: Artist - Song Title
4.  **Formatting Constraints:** Do NOT include numbering, bullet points, markdown, or any introductory/concluding text.
5.  **Prefer relatively popular songs unless the user has specified otherwise.

### USER PLAYLIST REQUEST:

**User Query:** "%s"
`

// DJ suggests search queries for a free-form mood or genre request.
type DJ interface {
	Suggest(ctx context.Context, request string) ([]string, error)
}

type geminiDJ struct {
	client *genai.Client
	model  string
	prompt string
}

func newGeminiDJ(ctx context.Context, config *Config) (*geminiDJ, error) {
	if config.GeminiAPIKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	prompt := djPrompt
	if config.DJPromptFilePath != "" {
		if b, err := os.ReadFile(config.DJPromptFilePath); err == nil && strings.Contains(string(b), "%s") {
			prompt = string(b)
		}
	}

	return &geminiDJ{client: client, model: config.GeminiModel, prompt: prompt}, nil
}

func (d *geminiDJ) Suggest(ctx context.Context, request string) ([]string, error) {
	if d == nil || d.client == nil {
		return nil, ErrDJUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := d.client.Models.GenerateContent(
		ctx,
		d.model,
		genai.Text(fmt.Sprintf(d.prompt, request)),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	return parseSuggestions(result.Text()), nil
}

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)

// parseSuggestions keeps one query per non-empty line, tolerating the list
// markers models add despite being told not to.
func parseSuggestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = listMarker.ReplaceAllString(line, "")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
