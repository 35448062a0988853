package llm

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

const defaultMCPCallTimeout = 60 * time.Second

// MCPConfig describes the analysis tool server an MCPSource spawns.
type MCPConfig struct {
	Command     string
	Args        []string
	Env         map[string]string
	Tool        string
	CallTimeout time.Duration
}

// MCPSource obtains opinions by calling a tool on a Model Context Protocol
// server spawned over stdio. The tool receives the rendered prompts and must
// answer with one text block holding the contract JSON.
type MCPSource struct {
	session *mcp.ClientSession
	tool    string
	timeout time.Duration
	log     zerolog.Logger
}

// NewMCPSource spawns the configured server process and performs the MCP
// handshake. The process lives until Close.
func NewMCPSource(ctx context.Context, cfg MCPConfig, log zerolog.Logger) (*MCPSource, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp source requires a command")
	}
	if cfg.Tool == "" {
		return nil, fmt.Errorf("mcp source requires a tool name")
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaultMCPCallTimeout
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...) // #nosec G204 command comes from validated config
	for key, val := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, val))
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "quorum-trader", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mcp server: %w", err)
	}

	return &MCPSource{
		session: session,
		tool:    cfg.Tool,
		timeout: cfg.CallTimeout,
		log:     log.With().Str("component", "llm_mcp").Str("tool", cfg.Tool).Logger(),
	}, nil
}

func (s *MCPSource) Name() string { return "mcp" }

// GenerateOpinion calls the analysis tool and parses its first text block.
func (s *MCPSource) GenerateOpinion(ctx context.Context, req OpinionRequest) (*OpinionDraft, error) {
	toolCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.session.CallTool(toolCtx, &mcp.CallToolParams{
		Name: s.tool,
		Arguments: map[string]any{
			"analyst_id": req.AnalystID,
			"role":       req.Role,
			"system":     req.SystemPrompt,
			"prompt":     req.UserPrompt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	s.log.Debug().Dur("duration", time.Since(start)).Msg("Tool call finished")

	if len(result.Content) == 0 {
		return nil, fmt.Errorf("%w: tool returned no content", ErrInvalidOutput)
	}
	textContent, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		return nil, fmt.Errorf("%w: tool returned non-text content", ErrInvalidOutput)
	}
	return ParseDraft(textContent.Text)
}

// Close shuts the session down and reaps the server process.
func (s *MCPSource) Close() error {
	return s.session.Close()
}
