// Package store is the persistence collaborator: Postgres for durable
// channel/message rows and an optional Redis cache holding the bounded
// recent history of each channel.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"palaver/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// GeneralChannel is the reserved channel name. It always exists and can
// never be deleted.
const GeneralChannel = "general"

var (
	ErrChannelExists    = errors.New("channel already exists")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrReservedChannel  = errors.New("the general channel cannot be deleted")
	ErrNotCreator       = errors.New("only the channel creator can delete it")
	ErrMessageNotFound  = errors.New("message not found")
	ErrMissingReference = errors.New("referenced row no longer exists")
)

// Config carries the store's connection settings.
type Config struct {
	DatabaseURL string
	RedisURL    string

	// HistoryLimit bounds RecentMessages and the per-channel cache.
	HistoryLimit int
}

// Store wraps the Postgres pool and the optional Redis history cache.
type Store struct {
	db    *pgxpool.Pool
	cache *redis.Client
	limit int
}

// New connects to Postgres and, when a Redis URL is configured, to Redis.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 50
	}

	s := &Store{db: pool, limit: limit}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		s.cache = client
		slog.Info("[STORE] History cache enabled", "limit", limit)
	}

	return s, nil
}

// InitSchema applies the embedded schema. Statements are idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// EnsureGeneral creates the reserved channel if it does not exist yet.
func (s *Store) EnsureGeneral(ctx context.Context) error {
	sql := `insert into channels (name, created_at) values ($1, $2) on conflict (name) do nothing`
	if _, err := s.db.Exec(ctx, sql, GeneralChannel, time.Now()); err != nil {
		return fmt.Errorf("ensure general channel: %w", err)
	}
	return nil
}

// UpsertUser records the identity carried by a verified token so that
// message and channel rows have a user row to reference. Identities are
// minted outside this service.
func (s *Store) UpsertUser(ctx context.Context, id models.Identity) error {
	sql := `insert into users (id, username, created_at) values ($1, $2, $3)
	        on conflict (id) do update set username = excluded.username`
	if _, err := s.db.Exec(ctx, sql, id.UserID, id.Username, time.Now()); err != nil {
		return fmt.Errorf("upsert user %d: %w", id.UserID, err)
	}
	return nil
}

// CreateMessage persists a message authored by the given identity and
// returns the full row. The author is always the verified identity, never
// client input.
func (s *Store) CreateMessage(ctx context.Context, channelID int64, author models.Identity, content string) (models.Message, error) {
	if err := s.UpsertUser(ctx, author); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ChannelID: channelID,
		UserID:    author.UserID,
		Username:  author.Username,
		Content:   content,
	}

	sql := `insert into messages (content, user_id, channel_id, created_at)
	        values ($1, $2, $3, $4) returning id, created_at`
	err := s.db.QueryRow(ctx, sql, content, author.UserID, channelID, time.Now()).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return models.Message{}, ErrMissingReference
		}
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	s.cachePush(ctx, msg)

	return msg, nil
}

// MessageWithAuthor loads the authoritative message row joined with its
// author's display name. This is the only read the relay protocol trusts.
func (s *Store) MessageWithAuthor(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	sql := `select m.id, m.channel_id, m.user_id, u.username, m.content, m.created_at
	        from messages m
	        join users u on u.id = m.user_id
	        where m.id = $1`
	err := s.db.QueryRow(ctx, sql, messageID).
		Scan(&msg.ID, &msg.ChannelID, &msg.UserID, &msg.Username, &msg.Content, &msg.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, fmt.Errorf("load message %d: %w", messageID, err)
	}
	return msg, nil
}

// RecentMessages returns the channel's most recent messages, oldest first.
// The Redis cache is consulted before Postgres; a cache miss backfills it.
func (s *Store) RecentMessages(ctx context.Context, channelID int64) ([]models.Message, error) {
	if cached, ok := s.cacheRead(ctx, channelID); ok {
		return cached, nil
	}

	sql := `select m.id, m.channel_id, m.user_id, u.username, m.content, m.created_at
	        from messages m
	        join users u on u.id = m.user_id
	        where m.channel_id = $1
	        order by m.created_at desc
	        limit $2`
	rows, err := s.db.Query(ctx, sql, channelID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("query messages for channel %d: %w", channelID, err)
	}
	defer rows.Close()

	var newestFirst []models.Message
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.UserID, &msg.Username, &msg.Content, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	s.cacheBackfill(ctx, channelID, newestFirst)

	return reverse(newestFirst), nil
}

// CreateChannel persists a channel created by the given identity.
func (s *Store) CreateChannel(ctx context.Context, name string, creator models.Identity) (models.Channel, error) {
	if err := s.UpsertUser(ctx, creator); err != nil {
		return models.Channel{}, err
	}

	ch := models.Channel{Name: name, CreatedBy: &creator.UserID}

	sql := `insert into channels (name, created_by, created_at) values ($1, $2, $3)
	        returning id, created_at`
	err := s.db.QueryRow(ctx, sql, name, creator.UserID, time.Now()).Scan(&ch.ID, &ch.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return models.Channel{}, ErrChannelExists
		}
		return models.Channel{}, fmt.Errorf("insert channel: %w", err)
	}

	return ch, nil
}

// DeleteChannel removes a channel and its messages. Only the creator may
// delete it and the reserved channel is never deletable.
func (s *Store) DeleteChannel(ctx context.Context, channelID, requesterID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete channel: %w", err)
	}
	defer tx.Rollback(context.Background())

	var name string
	var createdBy *int64
	err = tx.QueryRow(ctx, `select name, created_by from channels where id = $1`, channelID).
		Scan(&name, &createdBy)
	if err != nil {
		if isNoRows(err) {
			return ErrChannelNotFound
		}
		return fmt.Errorf("load channel %d: %w", channelID, err)
	}

	if name == GeneralChannel {
		return ErrReservedChannel
	}
	if createdBy == nil || *createdBy != requesterID {
		return ErrNotCreator
	}

	if _, err := tx.Exec(ctx, `delete from messages where channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("delete messages of channel %d: %w", channelID, err)
	}
	if _, err := tx.Exec(ctx, `delete from channels where id = $1`, channelID); err != nil {
		return fmt.Errorf("delete channel %d: %w", channelID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete channel %d: %w", channelID, err)
	}

	s.cacheDrop(ctx, channelID)

	return nil
}

// Channels lists every channel, oldest first.
func (s *Store) Channels(ctx context.Context) ([]models.Channel, error) {
	rows, err := s.db.Query(ctx, `select id, name, created_by, created_at from channels order by id`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.CreatedBy, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}
	return channels, nil
}

// Close releases both connection pools.
func (s *Store) Close() {
	s.db.Close()
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Warn("[STORE] Error closing redis client", "error", err)
		}
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func reverse(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
	}
	return out
}
