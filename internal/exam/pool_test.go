package exam_test

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

func poolOf(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestSample_DistinctFromPool(t *testing.T) {
	p := exam.NewQuestionPool(rand.NewSource(7))
	pool := poolOf(10)
	inPool := map[string]bool{}
	for _, id := range pool {
		inPool[id] = true
	}

	for n := 0; n <= len(pool); n++ {
		got, err := p.Sample(pool, n)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(got) != n {
			t.Fatalf("n=%d: got %d items", n, len(got))
		}
		seen := map[string]bool{}
		for _, id := range got {
			if !inPool[id] {
				t.Fatalf("n=%d: %q not in pool", n, id)
			}
			if seen[id] {
				t.Fatalf("n=%d: duplicate %q", n, id)
			}
			seen[id] = true
		}
	}
}

func TestSample_Insufficient(t *testing.T) {
	p := exam.NewQuestionPool(rand.NewSource(1))
	for _, n := range []int{4, -1} {
		if _, err := p.Sample(poolOf(3), n); !errors.Is(err, exam.ErrInsufficientPool) {
			t.Fatalf("n=%d: want ErrInsufficientPool, got %v", n, err)
		}
	}
}

func TestSample_LeavesPoolUntouched(t *testing.T) {
	p := exam.NewQuestionPool(rand.NewSource(3))
	pool := poolOf(8)
	before := append([]string(nil), pool...)
	if _, err := p.Sample(pool, 5); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pool, before) {
		t.Fatalf("pool mutated: %v -> %v", before, pool)
	}
}

func TestSample_SeededIsReproducible(t *testing.T) {
	a, _ := exam.NewQuestionPool(rand.NewSource(42)).Sample(poolOf(12), 6)
	b, _ := exam.NewQuestionPool(rand.NewSource(42)).Sample(poolOf(12), 6)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed, different draws: %v vs %v", a, b)
	}
}

func TestSample_Concurrent(t *testing.T) {
	p := exam.NewQuestionPool(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, err := p.Sample(poolOf(10), 4); err != nil || len(got) != 4 {
				t.Errorf("got %v, %v", got, err)
			}
		}()
	}
	wg.Wait()
}

func TestShuffleOptions_Permutation(t *testing.T) {
	p := exam.NewQuestionPool(rand.NewSource(5))
	opts := []exam.PublicOption{{ID: "1", Text: "a"}, {ID: "2", Text: "b"}, {ID: "3", Text: "c"}, {ID: "4", Text: "d"}}
	got := p.ShuffleOptions(opts)
	if len(got) != len(opts) {
		t.Fatalf("len %d", len(got))
	}
	ids := map[string]bool{}
	for _, o := range got {
		ids[o.ID] = true
	}
	if len(ids) != 4 {
		t.Fatalf("not a permutation: %v", got)
	}
	if opts[0].ID != "1" || opts[3].ID != "4" {
		t.Fatalf("input mutated: %v", opts)
	}
}
