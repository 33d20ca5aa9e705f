// Package redis stores taught question/answer records in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"learnbot/internal/domain"
)

// Store keeps every record as JSON in one hash, with a sorted set recording
// first-insertion order.
type Store struct {
	rdb     redis.UniversalClient
	records string
	order   string
	seq     string
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return New(rdb, cfg.Prefix), nil
}

// New wraps an existing client. Keys are namespaced by prefix.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "learnbot"
	}
	return &Store{
		rdb:     rdb,
		records: prefix + ":qa:records",
		order:   prefix + ":qa:order",
		seq:     prefix + ":qa:seq",
	}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) ListAll(ctx context.Context) ([]domain.QARecord, error) {
	questions, err := s.rdb.ZRange(ctx, s.order, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil
	}
	values, err := s.rdb.HMGet(ctx, s.records, questions...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	out := make([]domain.QARecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %w", questions[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) FindByQuestion(ctx context.Context, question string) (domain.QARecord, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.records, domain.Normalize(question)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.QARecord{}, false, nil
	}
	if err != nil {
		return domain.QARecord{}, false, fmt.Errorf("loading record: %w", err)
	}
	rec, err := decode(raw)
	if err != nil {
		return domain.QARecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Upsert(ctx context.Context, rec domain.QARecord) error {
	rec.Question = domain.Normalize(rec.Question)
	if rec.Question == "" {
		return domain.ErrEmptyQuestion
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	seq, err := s.rdb.Incr(ctx, s.seq).Result()
	if err != nil {
		return fmt.Errorf("allocating sequence: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.records, rec.Question, data)
		p.ZAddNX(ctx, s.order, redis.Z{Score: float64(seq), Member: rec.Question})
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	return nil
}

func decode(raw string) (domain.QARecord, error) {
	var rec domain.QARecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.QARecord{}, err
	}
	return rec, nil
}
