package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/model"
)

const (
	// DefaultSummaryMaxTokens bounds the summary produced by compaction.
	DefaultSummaryMaxTokens = 1000
	// SummaryInputLimit is how many transcript characters are sent to the
	// summarizer. The full transcript is always saved to scratch.
	SummaryInputLimit = 8000

	compactionLabel        = "compacted_history"
	summarizerInstructions = "You are a conversation summarizer."
	summaryPrompt          = "Summarize this conversation history. Preserve:\n" +
		"- Key decisions made\n" +
		"- Current plan and progress\n" +
		"- Important findings\n" +
		"- What remains to be done\n" +
		"Be concise but complete. This summary replaces the full history.\n\n"
)

// Compactor replaces a conversation with a summary and a pointer to the
// saved transcript.
type Compactor struct {
	provider  model.Provider
	store     ScratchWriter
	model     string
	maxTokens int
}

// NewCompactor creates a Compactor that summarizes with modelName.
func NewCompactor(provider model.Provider, store ScratchWriter, modelName string, maxTokens int) *Compactor {
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}
	return &Compactor{
		provider:  provider,
		store:     store,
		model:     modelName,
		maxTokens: maxTokens,
	}
}

// Compaction is the outcome of one compaction.
type Compaction struct {
	// Message is the single user message that replaces the history.
	Message domain.Message
	// TranscriptPath is the absolute path of the saved transcript.
	TranscriptPath string
	Summary        string
}

// Compact saves the transcript of messages to scratch, asks the model for a
// summary of its bounded prefix and returns the replacement message. A failed
// summarization is returned as an error wrapping ErrModel; nothing is dropped.
func (c *Compactor) Compact(ctx context.Context, messages []domain.Message) (*Compaction, error) {
	transcript := Transcript(messages)
	path, err := c.store.WriteScratch(compactionLabel, transcript)
	if err != nil {
		return nil, fmt.Errorf("%w: saving transcript: %w", ErrStorage, err)
	}
	rel := c.store.Rel(path)

	slog.Info("Compacting conversation",
		"messages", len(messages),
		"transcriptChars", len(transcript),
		"transcript", rel,
	)

	resp, err := c.provider.Complete(ctx, model.Request{
		Model:  c.model,
		System: summarizerInstructions,
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: []domain.Content{domain.TextContent(summaryPrompt + truncate(transcript, SummaryInputLimit))},
		}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: summarizing history: %w", ErrModel, err)
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return nil, fmt.Errorf("%w: model returned empty compaction summary", ErrModel)
	}

	text := fmt.Sprintf("[Context compacted. Full history in %s]\n\nSummary of work so far:\n%s\n\nContinue from where we left off.", rel, summary)
	return &Compaction{
		Message: domain.Message{
			Role:    domain.RoleUser,
			Content: []domain.Content{domain.TextContent(text)},
		},
		TranscriptPath: path,
		Summary:        summary,
	}, nil
}

// Transcript renders messages as "[role]: text" blocks separated by blank
// lines, tool traffic included.
func Transcript(messages []domain.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, fmt.Sprintf("[%s]: %s", m.Role, m.Transcript()))
	}
	return strings.Join(parts, "\n\n")
}
