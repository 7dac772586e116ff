package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/M4ORE/fda-ai-device-analyst/internal/config"
	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/llm"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
)

// ErrGeneration wraps a generation failure after retrieval succeeded. The
// caller gets no partial answer and no citations.
var ErrGeneration = errors.New("answer generation failed")

const defaultNoResultText = "No relevant FDA clearance documents were found for this question."

// ChatAnswer is one grounded answer with the devices it cites.
type ChatAnswer struct {
	Answer    string           `json:"answer"`
	Citations []model.Citation `json:"citations"`
}

// ChatService answers questions grounded in retrieved approval-letter
// chunks, keeping bounded per-session history.
type ChatService interface {
	// Answer runs retrieval and a blocking completion for one question.
	Answer(ctx context.Context, sessionID, query string, filter model.SearchFilter) (*ChatAnswer, error)
	// StreamAnswer streams the completion chunks into writer and returns
	// the assembled answer with citations once the stream finishes.
	StreamAnswer(ctx context.Context, sessionID, query string, filter model.SearchFilter, writer llm.MessageWriter) (*ChatAnswer, error)
	// ClearHistory drops the stored history of one session.
	ClearHistory(ctx context.Context, sessionID string) error
}

type chatService struct {
	searchService    SearchService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	llmCfg           config.LLMConfig
	ragCfg           config.RAGConfig
}

// NewChatService creates a new ChatService instance.
func NewChatService(
	searchService SearchService,
	llmClient llm.Client,
	conversationRepo repository.ConversationRepository,
	llmCfg config.LLMConfig,
	ragCfg config.RAGConfig,
) ChatService {
	return &chatService{
		searchService:    searchService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		llmCfg:           llmCfg,
		ragCfg:           ragCfg,
	}
}

func (s *chatService) Answer(ctx context.Context, sessionID, query string, filter model.SearchFilter) (*ChatAnswer, error) {
	results, messages, noResult, err := s.prepare(ctx, sessionID, query, filter)
	if err != nil {
		return nil, err
	}
	if noResult != nil {
		return noResult, nil
	}

	answer, err := s.llmClient.Complete(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	return s.finish(ctx, sessionID, query, answer, results), nil
}

func (s *chatService) StreamAnswer(ctx context.Context, sessionID, query string, filter model.SearchFilter, writer llm.MessageWriter) (*ChatAnswer, error) {
	results, messages, noResult, err := s.prepare(ctx, sessionID, query, filter)
	if err != nil {
		return nil, err
	}
	if noResult != nil {
		return noResult, nil
	}

	capture := &captureWriter{next: writer}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, capture); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	return s.finish(ctx, sessionID, query, capture.builder.String(), results), nil
}

func (s *chatService) ClearHistory(ctx context.Context, sessionID string) error {
	return s.conversationRepo.ClearHistory(ctx, sessionID)
}

// prepare runs retrieval and builds the grounded message list. When nothing
// is retrieved it short-circuits with the configured no-result answer, which
// skips generation entirely.
func (s *chatService) prepare(ctx context.Context, sessionID, query string, filter model.SearchFilter) ([]model.RetrievalResult, []llm.Message, *ChatAnswer, error) {
	results, err := s.searchService.Search(ctx, query, s.ragCfg.TopK, filter)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(results) == 0 {
		noResultText := s.llmCfg.Prompt.NoResultText
		if noResultText == "" {
			noResultText = defaultNoResultText
		}
		log.Infof("[ChatService] session %s: no context retrieved, returning canned answer", sessionID)
		return nil, nil, &ChatAnswer{Answer: noResultText, Citations: []model.Citation{}}, nil
	}

	history, err := s.boundedHistory(ctx, sessionID)
	if err != nil {
		log.Warnf("[ChatService] session %s: history unavailable, continuing without it: %v", sessionID, err)
		history = nil
	}

	messages := s.buildMessages(history, results, query)
	return results, messages, nil, nil
}

// finish extracts citations, persists the exchange and assembles the reply.
// History write failures are logged, not surfaced; the answer is already
// generated at that point.
func (s *chatService) finish(ctx context.Context, sessionID, query, answer string, results []model.RetrievalResult) *ChatAnswer {
	citations := extractCitations(results)
	if err := s.conversationRepo.AppendExchange(ctx, sessionID, query, answer); err != nil {
		log.Errorf("[ChatService] session %s: failed to store exchange: %v", sessionID, err)
	}
	log.Infof("[ChatService] session %s: answered with %d citations", sessionID, len(citations))
	return &ChatAnswer{Answer: answer, Citations: citations}
}

// boundedHistory loads the session history trimmed to the configured number
// of turns, one turn being a question and its answer.
func (s *chatService) boundedHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	history, err := s.conversationRepo.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	maxMessages := s.ragCfg.MaxHistoryTurns * 2
	if maxMessages > 0 && len(history) > maxMessages {
		history = history[len(history)-maxMessages:]
	}
	return history, nil
}

// buildMessages assembles the system prompt with numbered context blocks,
// the trimmed history and the current question. Context blocks are tagged
// [i] (device | company | submission) so the model can reference sources.
func (s *chatService) buildMessages(history []model.ChatMessage, results []model.RetrievalResult, query string) []llm.Message {
	refStart := s.llmCfg.Prompt.RefStart
	if refStart == "" {
		refStart = "Reference documents:"
	}
	refEnd := s.llmCfg.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "End of reference documents."
	}
	rules := s.llmCfg.Prompt.Rules
	if rules == "" {
		rules = "You are an analyst of FDA-cleared AI/ML medical devices. " +
			"Answer using only the reference documents below. " +
			"Cite every claim with the bracketed source number, e.g. [1]. " +
			"If the documents do not contain the answer, say so instead of guessing."
	}

	var sb strings.Builder
	sb.WriteString(rules)
	sb.WriteString("\n\n")
	sb.WriteString(refStart)
	sb.WriteString("\n")
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("[%d] (%s | %s | %s)\n%s\n\n", i+1, r.DeviceName, r.Company, r.SubmissionNumber, r.TextContent))
	}
	sb.WriteString(refEnd)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: sb.String()})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})
	return messages
}

// extractCitations returns every distinct source record whose chunks went
// into the prompt, in rank order. Citations are derived from the retrieval
// set, not from the answer text, so a successful answer always cites the
// full grounding set and a failed one cites nothing.
func extractCitations(results []model.RetrievalResult) []model.Citation {
	citations := make([]model.Citation, 0, len(results))
	cited := make(map[string]bool)
	for _, r := range results {
		if cited[r.SubmissionNumber] {
			continue
		}
		cited[r.SubmissionNumber] = true
		citations = append(citations, model.Citation{
			SubmissionNumber: r.SubmissionNumber,
			DeviceName:       r.DeviceName,
			Company:          r.Company,
		})
	}
	return citations
}

// captureWriter forwards stream chunks and keeps a copy so the assembled
// answer can be stored and returned after the stream ends.
type captureWriter struct {
	next    llm.MessageWriter
	builder strings.Builder
}

func (w *captureWriter) WriteMessage(messageType int, data []byte) error {
	w.builder.Write(data)
	return w.next.WriteMessage(messageType, data)
}
