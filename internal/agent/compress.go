package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drover-ai/drover/pkg/models"
	"github.com/google/uuid"
)

// SummaryMetadataKey marks a synthetic system message as a conversation
// summary produced by compression.
const SummaryMetadataKey = "drover_summary"

// CoversUntilKey records the ID of the last message a summary covers.
const CoversUntilKey = "covers_until"

// CompressionConfig configures context window compression.
type CompressionConfig struct {
	// Disabled turns compression off entirely.
	Disabled bool

	// TurnThreshold triggers compression once the cumulative turn count
	// reaches it. Default: 30.
	TurnThreshold int

	// TokenThreshold triggers compression once the estimated transcript
	// token count reaches it. Default: 100000.
	TokenThreshold int

	// PreserveRecent is how many recent messages survive compression
	// untouched. Default: 10.
	PreserveRecent int

	// MaxSummaryLength is the target summary length in characters.
	// Default: 2000.
	MaxSummaryLength int

	// Model overrides the backend's default model for summarization.
	Model string
}

// DefaultCompressionConfig returns sensible defaults.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		TurnThreshold:    30,
		TokenThreshold:   100000,
		PreserveRecent:   10,
		MaxSummaryLength: 2000,
	}
}

// CompressionResult describes one compression pass.
type CompressionResult struct {
	// Messages is the new transcript.
	Messages []*models.Message

	// MessagesCompressed is how many messages were folded into the summary.
	MessagesCompressed int

	// TokensSaved is the estimated token reduction.
	TokensSaved int

	// Summary is the generated summary text.
	Summary string
}

// Compressor folds old transcript messages into a generated summary to
// bound context size. It is owned by a single Runtime and not safe for
// concurrent use.
type Compressor struct {
	provider LLMProvider
	config   CompressionConfig
	logger   *slog.Logger
}

// NewCompressor creates a compressor backed by provider. Zero config
// fields fall back to defaults.
func NewCompressor(provider LLMProvider, config CompressionConfig, logger *slog.Logger) *Compressor {
	defaults := DefaultCompressionConfig()
	if config.TurnThreshold <= 0 {
		config.TurnThreshold = defaults.TurnThreshold
	}
	if config.TokenThreshold <= 0 {
		config.TokenThreshold = defaults.TokenThreshold
	}
	if config.PreserveRecent <= 0 {
		config.PreserveRecent = defaults.PreserveRecent
	}
	if config.MaxSummaryLength <= 0 {
		config.MaxSummaryLength = defaults.MaxSummaryLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		provider: provider,
		config:   config,
		logger:   logger,
	}
}

// ShouldCompress reports whether the transcript is due for compression,
// by turn count or by estimated token count. The answer is monotonic in
// both inputs.
func (c *Compressor) ShouldCompress(messages []*models.Message, turnCount int) bool {
	if c.config.Disabled {
		return false
	}
	if turnCount >= c.config.TurnThreshold {
		return true
	}
	return EstimateTokens(messages) >= c.config.TokenThreshold
}

// Compress folds all but the most recent messages into a single synthetic
// system summary. Transcripts at or below PreserveRecent are returned
// unchanged, which makes Compress idempotent on its own output.
func (c *Compressor) Compress(ctx context.Context, sessionID string, messages []*models.Message) (*CompressionResult, error) {
	if len(messages) <= c.config.PreserveRecent {
		return &CompressionResult{Messages: messages}, nil
	}

	split := len(messages) - c.config.PreserveRecent
	old := messages[:split]
	recent := messages[split:]

	summary, err := c.summarize(ctx, old)
	if err != nil {
		return nil, fmt.Errorf("generating summary: %w", err)
	}

	coversUntil := ""
	if last := old[len(old)-1]; last != nil {
		coversUntil = last.ID
	}

	summaryMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   summary,
		Metadata: map[string]any{
			SummaryMetadataKey: true,
			CoversUntilKey:     coversUntil,
		},
		CreatedAt: time.Now(),
	}

	newTranscript := make([]*models.Message, 0, len(recent)+1)
	newTranscript = append(newTranscript, summaryMsg)
	newTranscript = append(newTranscript, recent...)

	saved := EstimateTokens(old) - EstimateTokens([]*models.Message{summaryMsg})
	if saved < 0 {
		saved = 0
	}

	return &CompressionResult{
		Messages:           newTranscript,
		MessagesCompressed: len(old),
		TokensSaved:        saved,
		Summary:            summary,
	}, nil
}

// summarize renders the old messages into a prompt and asks the backend
// for a bounded summary.
func (c *Compressor) summarize(ctx context.Context, messages []*models.Message) (string, error) {
	prompt := buildSummaryPrompt(messages, c.config.MaxSummaryLength)

	chunks, err := c.provider.Complete(ctx, &CompletionRequest{
		Model:     c.config.Model,
		Messages:  []CompletionMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.config.MaxSummaryLength/2 + 256,
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}

	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return "", fmt.Errorf("backend returned an empty summary")
	}
	return summary, nil
}

// buildSummaryPrompt renders messages into a single textual transcript
// with tool activity inlined.
func buildSummaryPrompt(messages []*models.Message, maxLength int) string {
	var sb strings.Builder

	sb.WriteString("Summarize the following conversation concisely. ")
	fmt.Fprintf(&sb, "Keep the summary under %d characters. ", maxLength)
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Key topics discussed\n")
	sb.WriteString("- Important decisions or conclusions\n")
	sb.WriteString("- Any pending tasks or questions\n")
	sb.WriteString("- Tool executions and their outcomes\n\n")
	sb.WriteString("Conversation:\n\n")

	for _, m := range messages {
		if m == nil {
			continue
		}

		fmt.Fprintf(&sb, "[%s]: ", m.Role)
		if m.Content != "" {
			sb.WriteString(m.Content)
		}

		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&sb, "\n  [Called %s]", tc.Name)
		}

		for _, tr := range m.ToolResults {
			content := tr.Content
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			status := "success"
			if tr.IsError {
				status = "error"
			}
			fmt.Fprintf(&sb, "\n  [Tool result (%s): %s]", status, content)
		}

		sb.WriteString("\n\n")
	}

	sb.WriteString("---\nProvide a concise summary:")
	return sb.String()
}

// EstimateTokens approximates the token count of a transcript with a
// characters/4 heuristic. Thresholds built on it must tolerate the
// imprecision.
func EstimateTokens(messages []*models.Message) int {
	chars := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Input)
		}
		for _, tr := range m.ToolResults {
			chars += len(tr.Content)
		}
	}
	return chars / 4
}

// IsSummaryMessage reports whether msg is a compression-generated summary.
func IsSummaryMessage(msg *models.Message) bool {
	if msg == nil || msg.Metadata == nil {
		return false
	}
	v, ok := msg.Metadata[SummaryMetadataKey].(bool)
	return ok && v
}
