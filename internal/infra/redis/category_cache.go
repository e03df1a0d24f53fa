package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizzer/internal/domain"
	"quizzer/internal/infra/memory"
)

const categoriesKey = "quiz:categories"

// CategoryCache keeps the question corpus in Redis so several instances
// share one load of the backing store.
// Categories are stored as: HSET quiz:categories {category} {json questions}
type CategoryCache struct {
	client *redis.Client
	loader memory.CategoryLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewCategoryCache(client *redis.Client, loader memory.CategoryLoader, ttl time.Duration) *CategoryCache {
	return &CategoryCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CategoryCache) LoadCategories(ctx context.Context) (map[string][]domain.Question, error) {
	if cached, ok := c.fromCache(ctx); ok {
		return cached, nil
	}

	result, err, _ := c.sf.Do(categoriesKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if cached, ok := c.fromCache(ctx); ok {
			return cached, nil
		}

		categories, err := c.loader.LoadCategories(ctx)
		if err != nil {
			return nil, err
		}

		pipe := c.client.TxPipeline()
		pipe.Del(ctx, categoriesKey)
		for name, questions := range categories {
			raw, err := json.Marshal(questions)
			if err != nil {
				return nil, fmt.Errorf("encode category %s: %w", name, err)
			}
			pipe.HSet(ctx, categoriesKey, name, raw)
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, categoriesKey, ttl)
		}
		// a failed write only costs the next caller a reload
		_, _ = pipe.Exec(ctx)

		return categories, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string][]domain.Question), nil
}

// Invalidate drops the cached corpus, e.g. after an import.
func (c *CategoryCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, categoriesKey).Err()
}

func (c *CategoryCache) fromCache(ctx context.Context) (map[string][]domain.Question, bool) {
	fields, err := c.client.HGetAll(ctx, categoriesKey).Result()
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	categories := make(map[string][]domain.Question, len(fields))
	for name, raw := range fields {
		var questions []domain.Question
		if err := json.Unmarshal([]byte(raw), &questions); err != nil {
			return nil, false
		}
		categories[name] = questions
	}
	return categories, true
}

func (c *CategoryCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
