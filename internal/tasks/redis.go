package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tasks:"

// hsetIfExists merges fields into an existing hash only. Running it as a
// script keeps the existence check and the write atomic against expiry.
var hsetIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// RedisRepository keeps each task as a hash under tasks:{id} with an EXPIRE
// set at creation.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// ConnectRedis opens a client for url and verifies it with PING.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.PoolTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

func (r *RedisRepository) Create(ctx context.Context, task *Task) error {
	key := taskKey(task.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, toArgs(createFields(task))...)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *RedisRepository) Update(ctx context.Context, id string, u Update) error {
	if u.empty() {
		return r.mustExist(ctx, id)
	}
	return r.setIfExists(ctx, id, updateFields(u))
}

func (r *RedisRepository) AppendResults(ctx context.Context, id string, results []Result) error {
	encoded, err := encodeResults(results)
	if err != nil {
		return err
	}
	return r.setIfExists(ctx, id, map[string]string{fieldResults: encoded})
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*Task, error) {
	data, err := r.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return taskFromFields(id, data)
}

func (r *RedisRepository) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, taskKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check task %s: %w", id, err)
	}
	return n > 0, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, taskKey(id)).Err(); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (r *RedisRepository) setIfExists(ctx context.Context, id string, fields map[string]string) error {
	applied, err := hsetIfExists.Run(ctx, r.client, []string{taskKey(id)}, toArgs(fields)...).Int()
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if applied == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisRepository) mustExist(ctx context.Context, id string) error {
	ok, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func taskKey(id string) string {
	return keyPrefix + id
}

func toArgs(fields map[string]string) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
