package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/go-redis/redis/v8"
)

const (
	// maxStoredMessages caps the per-session history in Redis.
	maxStoredMessages = 20
	// sessionTTL bounds how long an idle session's history survives.
	sessionTTL = 24 * time.Hour
)

// ConversationRepository stores per-session chat history. History lives in
// Redis for the session lifetime only; nothing is persisted beyond the TTL.
type ConversationRepository interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	AppendExchange(ctx context.Context, sessionID, question, answer string) error
	ClearHistory(ctx context.Context, sessionID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository creates a new ConversationRepository instance.
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s", sessionID)
}

// GetHistory returns the stored turns of one session, oldest first.
func (r *redisConversationRepository) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	entries, err := r.redisClient.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// AppendExchange appends a user question and the assistant answer, trimming
// to the most recent messages and refreshing the TTL. History is a Redis
// list and the append is a single pipelined RPUSH+LTRIM, so concurrent
// exchanges on one session never overwrite each other.
func (r *redisConversationRepository) AppendExchange(ctx context.Context, sessionID, question, answer string) error {
	now := time.Now()
	userJSON, err := json.Marshal(model.ChatMessage{Role: "user", Content: question, Timestamp: now})
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	assistantJSON, err := json.Marshal(model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now})
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}

	key := sessionKey(sessionID)
	pipe := r.redisClient.TxPipeline()
	pipe.RPush(ctx, key, userJSON, assistantJSON)
	pipe.LTrim(ctx, key, -maxStoredMessages, -1)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append conversation history: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) ClearHistory(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, sessionKey(sessionID)).Err()
}
