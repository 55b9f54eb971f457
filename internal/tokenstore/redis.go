package tokenstore

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/authclient/internal/domain"
	redisclient "github.com/aelexs/authclient/internal/redis"
)

var tracer = otel.Tracer("authclient/tokenstore")

// RedisBackend stores the pair as two string keys, written and removed in a
// single MULTI/EXEC transaction. Keys carry no TTL; the server decides when
// a token stops being valid.
type RedisBackend struct {
	cmd        redisclient.Cmdable
	accessKey  string
	refreshKey string
}

// NewRedisBackend creates a RedisBackend. prefix is prepended to both key
// names, e.g. "svc-a:" gives "svc-a:accessToken".
func NewRedisBackend(cmd redisclient.Cmdable, prefix string) *RedisBackend {
	return &RedisBackend{
		cmd:        cmd,
		accessKey:  prefix + domain.AccessTokenKey,
		refreshKey: prefix + domain.RefreshTokenKey,
	}
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) (TokenPair, error) {
	ctx, span := startRedisSpan(ctx, "redis.tokens.load", "MGET")
	defer span.End()

	vals, err := b.cmd.MGet(ctx, b.accessKey, b.refreshKey).Result()
	if err != nil {
		recordSpanError(span, err)
		return TokenPair{}, fmt.Errorf("load tokens: %w", err)
	}

	access, _ := vals[0].(string)
	refresh, _ := vals[1].(string)
	if access == "" && refresh == "" {
		return TokenPair{}, domain.ErrNotFound
	}
	return NewTokenPair(access, refresh), nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, pair TokenPair) error {
	ctx, span := startRedisSpan(ctx, "redis.tokens.save", "MULTI SET")
	defer span.End()

	_, err := b.cmd.TxPipelined(ctx, func(pipe redisclient.Pipeliner) error {
		pipe.Set(ctx, b.accessKey, pair.Access.Expose(), 0)
		pipe.Set(ctx, b.refreshKey, pair.Refresh.Expose(), 0)
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context) error {
	ctx, span := startRedisSpan(ctx, "redis.tokens.delete", "DEL")
	defer span.End()

	if err := b.cmd.Del(ctx, b.accessKey, b.refreshKey).Err(); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("delete tokens: %w", err)
	}
	return nil
}

func startRedisSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", op),
	)
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
