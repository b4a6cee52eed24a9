package redis

import (
	"context"
	"errors"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/subvoyager/subvoyager/pkg/circuitbreaker"
)

// NewBreaker creates a breaker that counts only IsStoreFailure errors unless
// cfg supplies its own predicate.
func NewBreaker(cfg circuitbreaker.Config) *circuitbreaker.Breaker {
	if cfg.IsFailure == nil {
		cfg.IsFailure = IsStoreFailure
	}
	return circuitbreaker.New(cfg)
}

// UseBreaker routes every command and pipeline through cb. Build cb with
// NewBreaker so that misses, aborted transactions and server replies are not
// counted as failures.
func (s *Store) UseBreaker(cb *circuitbreaker.Breaker) {
	s.client.AddHook(breakerHook{cb: cb})
}

// IsStoreFailure is the breaker failure predicate for Redis errors.
func IsStoreFailure(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, redis.TxFailedErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var replyErr redis.Error
	return !errors.As(err, &replyErr)
}

type breakerHook struct {
	cb *circuitbreaker.Breaker
}

func (h breakerHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h breakerHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		done, err := h.cb.Allow()
		if err != nil {
			cmd.SetErr(err)
			return err
		}
		err = next(ctx, cmd)
		done(err)
		return err
	}
}

func (h breakerHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		done, err := h.cb.Allow()
		if err != nil {
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
			return err
		}
		err = next(ctx, cmds)
		done(err)
		return err
	}
}
