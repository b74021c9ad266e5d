package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

const (
	todosCacheKey = "todos:all"
	// todosGenKey is bumped by every eviction so a list read that raced a
	// write is not stored.
	todosGenKey = "todos:gen"
)

type backend interface {
	Ping(ctx context.Context) error
	ListTodos(ctx context.Context) ([]domain.Todo, error)
	FindTodo(ctx context.Context, id int64) (domain.Todo, bool, error)
	InsertTodo(ctx context.Context, task string, completed bool) (domain.Todo, error)
	UpdateTodo(ctx context.Context, id int64, task string, completed bool) (bool, error)
	DeleteTodo(ctx context.Context, id int64) (bool, error)
}

// Cache wraps a backend with a Redis-backed copy of the todo list.
// A list read from the backend is only stored when no write evicted the
// list while the read was in flight; if Redis misses an eviction the stale
// entry lives at most one TTL.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or a zero TTL turns the cache into a pass-through.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}

func (c *Cache) ListTodos(ctx context.Context) ([]domain.Todo, error) {
	if todos, ok := c.loadTodosFromCache(ctx); ok {
		return todos, nil
	}

	gen, genOK := c.generation(ctx)
	todos, err := c.base.ListTodos(ctx)
	if err != nil {
		return nil, err
	}

	if genOK {
		c.storeTodos(ctx, gen, todos)
	}
	return todos, nil
}

func (c *Cache) FindTodo(ctx context.Context, id int64) (domain.Todo, bool, error) {
	return c.base.FindTodo(ctx, id)
}

func (c *Cache) InsertTodo(ctx context.Context, task string, completed bool) (domain.Todo, error) {
	todo, err := c.base.InsertTodo(ctx, task, completed)
	if err != nil {
		return domain.Todo{}, err
	}

	c.evict(ctx)
	return todo, nil
}

func (c *Cache) UpdateTodo(ctx context.Context, id int64, task string, completed bool) (bool, error) {
	ok, err := c.base.UpdateTodo(ctx, id, task, completed)
	if err != nil {
		return false, err
	}
	if ok {
		c.evict(ctx)
	}
	return ok, nil
}

func (c *Cache) DeleteTodo(ctx context.Context, id int64) (bool, error) {
	ok, err := c.base.DeleteTodo(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		c.evict(ctx)
	}
	return ok, nil
}

func (c *Cache) enabled() bool {
	return c.redis != nil && c.ttl > 0
}

func (c *Cache) loadTodosFromCache(ctx context.Context) ([]domain.Todo, bool) {
	if !c.enabled() {
		return nil, false
	}
	data, err := c.redis.Get(ctx, todosCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, todosCacheKey).Err()
		}
		return nil, false
	}
	var todos []domain.Todo
	if err := sonic.Unmarshal(data, &todos); err != nil || todos == nil {
		_ = c.redis.Del(ctx, todosCacheKey).Err()
		return nil, false
	}
	return todos, true
}

// generation reports the current eviction counter. ok is false when the
// cache is disabled or Redis cannot be read.
func (c *Cache) generation(ctx context.Context) (gen int64, ok bool) {
	if !c.enabled() {
		return 0, false
	}
	return readGeneration(ctx, c.redis)
}

func readGeneration(ctx context.Context, cmd redis.Cmdable) (int64, bool) {
	gen, err := cmd.Get(ctx, todosGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

// storeTodos writes the list unless the generation moved past gen.
func (c *Cache) storeTodos(ctx context.Context, gen int64, todos []domain.Todo) {
	data, err := sonic.Marshal(todos)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, ok := readGeneration(ctx, tx)
		if !ok || cur != gen {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, todosCacheKey, data, c.ttl)
			return nil
		})
		return err
	}, todosGenKey)
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, todosGenKey)
		pipe.Del(ctx, todosCacheKey)
		return nil
	})
}
