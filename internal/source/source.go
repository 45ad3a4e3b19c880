// Package source produces batches of raw postings.
//
// A Fetch returns a complete batch or an error, never a partial batch.
package source

import (
	"context"
	"fmt"
	"sync"

	"jobwatch/internal/domain"
)

type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.RawPosting, error)
}

// Multi fetches every child concurrently and concatenates the results in
// child order. If any child fails the whole fetch fails.
type Multi struct {
	sources []Source
}

func NewMulti(sources ...Source) *Multi {
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Multi{sources: out}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Len() int { return len(m.sources) }

func (m *Multi) Fetch(ctx context.Context) ([]domain.RawPosting, error) {
	if len(m.sources) == 1 {
		return fetchOne(ctx, m.sources[0])
	}

	batches := make([][]domain.RawPosting, len(m.sources))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, s := range m.sources {
		wg.Add(1)
		go func(i int, s Source) {
			defer wg.Done()
			items, err := fetchOne(ctx, s)
			if err != nil {
				// The first failure wins over the cancellations it causes.
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
				return
			}
			batches[i] = items
		}(i, s)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	var n int
	for _, b := range batches {
		n += len(b)
	}
	out := make([]domain.RawPosting, 0, n)
	for _, b := range batches {
		out = append(out, b...)
	}
	return out, nil
}

func fetchOne(ctx context.Context, s Source) ([]domain.RawPosting, error) {
	items, err := s.Fetch(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSourceFetch, fmt.Sprintf("source %s", s.Name()), err)
	}
	return items, nil
}
