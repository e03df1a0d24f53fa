package memory

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizzer/internal/domain"
)

// RandomCategory draws questions from every category.
const RandomCategory = "random"

const corpusKey = "corpus"

// CategoryLoader fetches the whole question corpus keyed by category name.
type CategoryLoader interface {
	LoadCategories(ctx context.Context) (map[string][]domain.Question, error)
}

// QuestionPool caches the corpus with TTL and hands out random question sets.
type QuestionPool struct {
	loader CategoryLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu        sync.RWMutex
	corpus    map[string][]domain.Question
	expiresAt time.Time
}

func NewQuestionPool(loader CategoryLoader, ttl time.Duration) *QuestionPool {
	return NewQuestionPoolWithSeed(loader, ttl, time.Now().UnixNano())
}

// NewQuestionPoolWithSeed makes picks reproducible.
func NewQuestionPoolWithSeed(loader CategoryLoader, ttl time.Duration, seed int64) *QuestionPool {
	return &QuestionPool{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(seed)),
	}
}

// PickQuestions returns count questions with distinct prompts. The category
// name is matched case-insensitively with spaces and underscores treated
// alike; a group name such as "Entertainment" covers every
// "Entertainment_*" category.
func (p *QuestionPool) PickQuestions(ctx context.Context, category string, count int) ([]domain.Question, error) {
	corpus, err := p.load(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := resolve(corpus, category)
	if err != nil {
		return nil, err
	}
	candidates = dedupe(candidates)
	if len(candidates) < count {
		return nil, domain.ErrInsufficientQuestions
	}

	p.rndMu.Lock()
	perm := p.rnd.Perm(len(candidates))
	p.rndMu.Unlock()

	picked := make([]domain.Question, 0, count)
	for _, i := range perm[:count] {
		picked = append(picked, candidates[i])
	}
	return picked, nil
}

// Categories lists category names in sorted order.
func (p *QuestionPool) Categories(ctx context.Context) ([]string, error) {
	corpus, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(corpus))
	for name := range corpus {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *QuestionPool) load(ctx context.Context) (map[string][]domain.Question, error) {
	now := p.clock()

	p.mu.RLock()
	if p.corpus != nil && p.expiresAt.After(now) {
		corpus := p.corpus
		p.mu.RUnlock()
		return corpus, nil
	}
	p.mu.RUnlock()

	result, err, _ := p.sf.Do(corpusKey, func() (interface{}, error) {
		now := p.clock()
		p.mu.RLock()
		if p.corpus != nil && p.expiresAt.After(now) {
			corpus := p.corpus
			p.mu.RUnlock()
			return corpus, nil
		}
		p.mu.RUnlock()

		corpus, err := p.loader.LoadCategories(ctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.corpus = corpus
		p.expiresAt = now.Add(p.ttlWithJitter())
		p.mu.Unlock()
		return corpus, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string][]domain.Question), nil
}

func (p *QuestionPool) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(p.ttl) / 10
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
	return p.ttl + time.Duration(p.rnd.Int63n(jitterMax+1))
}

// NormalizeCategory folds case and treats spaces as underscores.
func NormalizeCategory(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

func resolve(corpus map[string][]domain.Question, category string) ([]domain.Question, error) {
	want := NormalizeCategory(category)
	names := make([]string, 0, len(corpus))
	for name := range corpus {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.Question
	if want == RandomCategory {
		for _, name := range names {
			out = append(out, corpus[name]...)
		}
		return out, nil
	}

	for _, name := range names {
		if NormalizeCategory(name) == want {
			return corpus[name], nil
		}
	}

	found := false
	for _, name := range names {
		if strings.HasPrefix(NormalizeCategory(name), want+"_") {
			out = append(out, corpus[name]...)
			found = true
		}
	}
	if !found {
		return nil, domain.ErrCategoryNotFound
	}
	return out, nil
}

func dedupe(questions []domain.Question) []domain.Question {
	seen := make(map[string]struct{}, len(questions))
	out := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		if _, ok := seen[q.Prompt]; ok {
			continue
		}
		seen[q.Prompt] = struct{}{}
		out = append(out, q)
	}
	return out
}

// StaticCategoryLoader serves a fixed corpus (useful for tests/demos).
type StaticCategoryLoader struct {
	categories map[string][]domain.Question
}

func NewStaticCategoryLoader(categories map[string][]domain.Question) *StaticCategoryLoader {
	return &StaticCategoryLoader{categories: categories}
}

func (l *StaticCategoryLoader) LoadCategories(_ context.Context) (map[string][]domain.Question, error) {
	return l.categories, nil
}
