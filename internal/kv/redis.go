package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "soulid/pkg/domain-errors"
	"soulid/pkg/platform/sentinel"
)

const (
	defaultRedisPrefix = "soulid:"
	lockPollInterval   = 10 * time.Millisecond
	// maxViewAttempts bounds how often View reruns fn when a writer commits
	// underneath it.
	maxViewAttempts = 3
)

// releaseLock deletes the writer lock only if the caller still owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis stores the substrate in plain redis string keys under a prefix.
//
// Update takes a SET NX PX writer lock, buffers writes, and commits them with
// one MULTI/EXEC that also bumps a version counter. The commit WATCHes the lock
// key so a writer whose lock expired cannot overwrite a newer transaction.
// View compares the version counter before and after fn and reruns fn when a
// commit landed in between.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	lockTTL time.Duration
}

// RedisOption configures a Redis substrate.
type RedisOption func(*Redis)

// WithRedisPrefix namespaces every key. Defaults to "soulid:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisTimeout overrides the default transaction timeout.
func WithRedisTimeout(timeout time.Duration) RedisOption {
	return func(r *Redis) {
		r.timeout = timeout
	}
}

// NewRedis constructs a substrate over a connected client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.timeout == 0 {
		r.timeout = defaultTxTimeout
	}
	// The lock outlives the transaction deadline so it is never dropped
	// while a healthy writer is still inside fn.
	r.lockTTL = r.timeout + time.Second
	return r
}

func (r *Redis) lockKey() string    { return r.prefix + "lock:writer" }
func (r *Redis) versionKey() string { return r.prefix + "meta:version" }
func (r *Redis) dataKey(k string) string {
	return r.prefix + "data:" + k
}

func (r *Redis) View(ctx context.Context, fn func(txn Txn) error) error {
	ctx, cancel, err := withTxTimeout(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	for attempt := 0; attempt < maxViewAttempts; attempt++ {
		before, err := r.version(ctx)
		if err != nil {
			return err
		}
		fnErr := fn(&redisView{ctx: ctx, store: r})
		after, err := r.version(ctx)
		if err != nil {
			return err
		}
		if before == after {
			return fnErr
		}
	}
	return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "kv view kept racing concurrent writers")
}

func (r *Redis) Update(ctx context.Context, fn func(txn Txn) error) error {
	ctx, cancel, err := withTxTimeout(ctx, r.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	token, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// Release on a fresh context so a cancelled caller still frees the lock.
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), time.Second)
		defer releaseCancel()
		_ = releaseLock.Run(releaseCtx, r.client, []string{r.lockKey()}, token).Err()
	}()

	txn := &redisTxn{redisView: redisView{ctx: ctx, store: r}, writes: newWriteSet()}
	if err := fn(txn); err != nil {
		return err
	}
	return r.commit(ctx, token, txn.writes)
}

func (r *Redis) acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, r.lockKey(), token, r.lockTTL).Result()
		if err != nil {
			return "", mapRedisErr(err, "acquire writer lock")
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "kv writer lock busy")
		case <-ticker.C:
		}
	}
}

func (r *Redis) commit(ctx context.Context, token string, writes *writeSet) error {
	if len(writes.order) == 0 {
		return nil
	}
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, r.lockKey()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if owner != token {
			return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "kv writer lock lost before commit")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range writes.order {
				if v := writes.values[key]; v != nil {
					pipe.Set(ctx, r.dataKey(key), v, 0)
				} else {
					pipe.Del(ctx, r.dataKey(key))
				}
			}
			pipe.Incr(ctx, r.versionKey())
			return nil
		})
		return err
	}, r.lockKey())
	if errors.Is(err, redis.TxFailedErr) {
		return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrConflict, sentinel.ErrUnavailable), dErrors.CodeUnavailable, "kv writer lock changed during commit")
	}
	var de *dErrors.Error
	if err != nil && !errors.As(err, &de) {
		return mapRedisErr(err, "commit")
	}
	return err
}

func (r *Redis) version(ctx context.Context) (int64, error) {
	v, err := r.client.Get(ctx, r.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, mapRedisErr(err, "read version")
	}
	return v, nil
}

type redisView struct {
	ctx   context.Context
	store *Redis
}

func (v *redisView) Get(key string) ([]byte, error) {
	val, err := v.store.client.Get(v.ctx, v.store.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, mapRedisErr(err, "get "+key)
	}
	return val, nil
}

func (v *redisView) Put(string, []byte) error { return sentinel.ErrReadOnly }

func (v *redisView) Delete(string) error { return sentinel.ErrReadOnly }

type redisTxn struct {
	redisView
	writes *writeSet
}

func (t *redisTxn) Get(key string) ([]byte, error) {
	if v, found, err := t.writes.lookup(key); found {
		return v, err
	}
	return t.redisView.Get(key)
}

func (t *redisTxn) Put(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	t.writes.put(key, value)
	return nil
}

func (t *redisTxn) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	t.writes.del(key)
	return nil
}

func mapRedisErr(err error, step string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "kv "+step+" timed out")
	}
	return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err), dErrors.CodeUnavailable, "kv "+step+" failed")
}
