package exam

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// QuestionPool draws random question sets. *rand.Rand is not safe for
// concurrent use, so draws are serialized on mu.
type QuestionPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewQuestionPool uses src for every draw. A nil src seeds from the clock.
func NewQuestionPool(src rand.Source) *QuestionPool {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &QuestionPool{rnd: rand.New(src)}
}

// Sample returns count distinct elements of pool in random order.
// pool itself is left untouched.
func (p *QuestionPool) Sample(pool []string, count int) ([]string, error) {
	if count < 0 || count > len(pool) {
		return nil, fmt.Errorf("want %d of %d: %w", count, len(pool), ErrInsufficientPool)
	}
	cpy := make([]string, len(pool))
	copy(cpy, pool)

	p.mu.Lock()
	// partial Fisher-Yates: only the first count slots are needed
	for i := 0; i < count; i++ {
		j := i + p.rnd.Intn(len(cpy)-i)
		cpy[i], cpy[j] = cpy[j], cpy[i]
	}
	p.mu.Unlock()

	return cpy[:count:count], nil
}

// ShuffleOptions returns a permuted copy of opts.
func (p *QuestionPool) ShuffleOptions(opts []PublicOption) []PublicOption {
	out := make([]PublicOption, len(opts))
	copy(out, opts)
	p.mu.Lock()
	p.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	p.mu.Unlock()
	return out
}
