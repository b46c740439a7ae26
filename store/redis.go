// Package store persists note and session records in Redis. The privacy core
// never touches storage itself; the HTTP layer hands records here after the
// core returns them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"veil/privacy-service/logging"
	"veil/privacy-service/privacy"
)

const (
	noteKeyPrefix    = "privacy_note_"
	sessionKeyPrefix = "privacy_session_"
	walletNotesKey   = "privacy_wallet_notes:"

	// Sessions are audit breadcrumbs for batched executions, not durable
	// records.
	sessionTTL = 24 * time.Hour
)

type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 10 * time.Second
	opts.WriteTimeout = 10 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Logger().Info().
		Str("redis_addr", opts.Addr).
		Int("pool_size", opts.PoolSize).
		Msg("note store connected")

	return &RedisStore{Client: client}, nil
}

func (rs *RedisStore) Close() error {
	return rs.Client.Close()
}

func (rs *RedisStore) SaveNote(ctx context.Context, note *privacy.CompressedNote) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal note: %w", err)
	}

	pipe := rs.Client.TxPipeline()
	pipe.Set(ctx, noteKeyPrefix+note.NoteCommitment, data, 0)
	pipe.SAdd(ctx, walletNotesKey+note.WalletAddress, note.NoteCommitment)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store note: %w", err)
	}

	logging.Logger().Debug().
		Str("commitment", note.NoteCommitment).
		Str("wallet", note.WalletAddress).
		Bool("is_decoy", note.IsDecoy).
		Msg("note stored")
	return nil
}

// GetNote returns nil without error when the commitment is unknown.
func (rs *RedisStore) GetNote(ctx context.Context, commitment string) (*privacy.CompressedNote, error) {
	data, err := rs.Client.Get(ctx, noteKeyPrefix+commitment).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}

	var note privacy.CompressedNote
	if err := json.Unmarshal([]byte(data), &note); err != nil {
		return nil, fmt.Errorf("failed to unmarshal note: %w", err)
	}
	return &note, nil
}

func (rs *RedisStore) NotesByWallet(ctx context.Context, walletAddress string) ([]*privacy.CompressedNote, error) {
	commitments, err := rs.Client.SMembers(ctx, walletNotesKey+walletAddress).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet notes: %w", err)
	}

	notes := make([]*privacy.CompressedNote, 0, len(commitments))
	for _, commitment := range commitments {
		note, err := rs.GetNote(ctx, commitment)
		if err != nil {
			return nil, err
		}
		if note != nil {
			notes = append(notes, note)
		}
	}
	return notes, nil
}

func (rs *RedisStore) SaveSession(ctx context.Context, session *privacy.ZkExecutionSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := rs.Client.Set(ctx, sessionKeyPrefix+session.BatchID, data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	logging.Logger().Debug().
		Str("batch_id", session.BatchID).
		Str("wallet", session.WalletAddress).
		Msg("execution session stored")
	return nil
}

// GetSession returns nil without error when the batch ID is unknown or its
// record has expired.
func (rs *RedisStore) GetSession(ctx context.Context, batchID string) (*privacy.ZkExecutionSession, error) {
	data, err := rs.Client.Get(ctx, sessionKeyPrefix+batchID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session privacy.ZkExecutionSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}
