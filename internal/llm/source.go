// Package llm hosts the opinion sources that realize analyst slots: an
// OpenAI-compatible chat-completions client, a Google Gemini client, an MCP
// tool-call client and a deterministic rule-based source for dev and tests.
// Every text-producing source must answer with one JSON object matching the
// opinion contract; anything else is ErrInvalidOutput and the analyst slot
// degrades to its fallback opinion.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"quorum-trader/pkg/models"
)

// ErrInvalidOutput marks source output that does not match the opinion
// contract. The pool treats it like any other analyst failure.
var ErrInvalidOutput = errors.New("analyst output violates the opinion contract")

// OpinionRequest carries everything a source needs for one opinion: the
// rendered prompts for model-backed sources and the snapshot for rule-based
// ones.
type OpinionRequest struct {
	AnalystID    string
	Role         string
	SystemPrompt string
	UserPrompt   string
	Snapshot     *models.MarketSnapshot
}

// OpinionDraft is a source's raw answer before the pool stamps identity,
// timestamps and data quality onto it.
type OpinionDraft struct {
	Signal     models.Signal
	Confidence int
	Reasoning  string
}

// Source produces opinion drafts. Implementations must honor ctx deadlines;
// the pool enforces a per-analyst timeout around every call.
type Source interface {
	Name() string
	GenerateOpinion(ctx context.Context, req OpinionRequest) (*OpinionDraft, error)
}

// rawDraft is the wire contract: {"signal": "...", "confidence": N,
// "reasoning": "..."}. Confidence arrives as a JSON number so fractional
// model output still parses.
type rawDraft struct {
	Signal     string      `json:"signal"`
	Confidence json.Number `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
}

// ParseDraft extracts the contract JSON from model text, tolerating markdown
// code fences. Unknown signals are ErrInvalidOutput; out-of-range confidence
// is rounded and clamped into [0,100] rather than rejected.
func ParseDraft(content string) (*OpinionDraft, error) {
	content = extractJSONFromMarkdown(content)

	var raw rawDraft
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	signal := models.Signal(strings.ToUpper(strings.TrimSpace(raw.Signal)))
	if !signal.Valid() {
		return nil, fmt.Errorf("%w: unknown signal %q", ErrInvalidOutput, raw.Signal)
	}

	confidence := 0
	if raw.Confidence != "" {
		f, err := raw.Confidence.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: confidence %q is not numeric", ErrInvalidOutput, raw.Confidence)
		}
		confidence = int(math.Round(f))
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	return &OpinionDraft{
		Signal:     signal,
		Confidence: confidence,
		Reasoning:  strings.TrimSpace(raw.Reasoning),
	}, nil
}

// extractJSONFromMarkdown strips a ```json ... ``` or ``` ... ``` fence when
// the model wraps its answer in one.
func extractJSONFromMarkdown(content string) string {
	contentBytes := []byte(content)
	start := -1

	if idx := bytes.Index(contentBytes, []byte("```json")); idx >= 0 {
		start = idx + 7
	} else if idx := bytes.Index(contentBytes, []byte("```")); idx >= 0 {
		start = idx + 3
	}

	if start >= 0 {
		if idx := bytes.Index(contentBytes[start:], []byte("```")); idx >= 0 {
			content = content[start : start+idx]
		}
	}

	return strings.TrimSpace(content)
}
