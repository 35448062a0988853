package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiSource asks the Google Gemini API for opinions. Gemini has no
// separate system role in the simple text path, so the system prompt is
// prepended to the user prompt.
type GeminiSource struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

// NewGeminiSource connects to the Gemini API with the given key.
func NewGeminiSource(ctx context.Context, apiKey, model string, log zerolog.Logger) (*GeminiSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini source requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiSource{
		client: client,
		model:  model,
		log:    log.With().Str("component", "llm_gemini").Logger(),
	}, nil
}

func (s *GeminiSource) Name() string { return "gemini" }

// GenerateOpinion generates one completion and parses the contract JSON.
func (s *GeminiSource) GenerateOpinion(ctx context.Context, req OpinionRequest) (*OpinionDraft, error) {
	var prompt strings.Builder
	if req.SystemPrompt != "" {
		prompt.WriteString(req.SystemPrompt)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString(req.UserPrompt)

	s.log.Debug().Str("model", s.model).Str("analyst", req.AnalystID).Msg("Generating opinion")

	result, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt.String()), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	text, err := geminiResponseText(result)
	if err != nil {
		return nil, err
	}
	return ParseDraft(text)
}

func geminiResponseText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no content")
	}
	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}
