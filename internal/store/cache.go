package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"palaver/internal/models"
)

// The cache keeps each channel's recent history as a Redis list, newest at
// the head, trimmed to the history limit. Cache failures only cost a
// Postgres round trip, so they are logged and swallowed.

func historyKey(channelID int64) string {
	return fmt.Sprintf("chat:history:%d", channelID)
}

// cachePush prepends a freshly persisted message and re-trims the list.
func (s *Store) cachePush(ctx context.Context, msg models.Message) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("[STORE] Failed to marshal message for cache", "message", msg.ID, "error", err)
		return
	}

	key := historyKey(msg.ChannelID)
	pipe := s.cache.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(s.limit)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("[STORE] Failed to cache message", "channel", msg.ChannelID, "error", err)
	}
}

// cacheRead returns the cached history oldest-first, or ok=false on a miss.
func (s *Store) cacheRead(ctx context.Context, channelID int64) ([]models.Message, bool) {
	if s.cache == nil {
		return nil, false
	}

	raw, err := s.cache.LRange(ctx, historyKey(channelID), 0, int64(s.limit)-1).Result()
	if err != nil {
		slog.Warn("[STORE] History cache read failed", "channel", channelID, "error", err)
		return nil, false
	}
	if len(raw) == 0 {
		return nil, false
	}

	// list is newest-first; callers want oldest-first
	msgs := make([]models.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg models.Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			slog.Warn("[STORE] Dropping unreadable cache entry", "channel", channelID, "error", err)
			return nil, false
		}
		msgs = append(msgs, msg)
	}
	return msgs, true
}

// cacheBackfill rebuilds a channel's list after a miss that hit Postgres.
func (s *Store) cacheBackfill(ctx context.Context, channelID int64, newestFirst []models.Message) {
	if s.cache == nil || len(newestFirst) == 0 {
		return
	}

	entries := make([]interface{}, 0, len(newestFirst))
	for _, msg := range newestFirst {
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Warn("[STORE] Failed to marshal message for cache backfill", "message", msg.ID, "error", err)
			return
		}
		entries = append(entries, data)
	}

	key := historyKey(channelID)
	pipe := s.cache.Pipeline()
	pipe.Del(ctx, key)
	pipe.RPush(ctx, key, entries...)
	pipe.LTrim(ctx, key, 0, int64(s.limit)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("[STORE] History cache backfill failed", "channel", channelID, "error", err)
	}
}

// cacheDrop discards a deleted channel's history.
func (s *Store) cacheDrop(ctx context.Context, channelID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, historyKey(channelID)).Err(); err != nil {
		slog.Warn("[STORE] Failed to drop cached history", "channel", channelID, "error", err)
	}
}
