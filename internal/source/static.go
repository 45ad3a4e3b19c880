package source

import (
	"context"
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"jobwatch/internal/domain"
)

// Static serves postings from a YAML file, re-read on every fetch, or from
// a fixed in-memory list.
//
// File layout:
//
//	postings:
//	  - title: Python Backend Engineer
//	    body: ...
//	    origin: Acme
//	    url: https://jobs.example/1
//	    published_at: 2024-05-01T08:00:00Z
type Static struct {
	path  string
	items []domain.RawPosting
}

type staticFile struct {
	Postings []domain.RawPosting `yaml:"postings"`
}

func NewStaticFile(path string) *Static { return &Static{path: path} }

func NewStatic(items ...domain.RawPosting) *Static {
	return &Static{items: append([]domain.RawPosting(nil), items...)}
}

func (s *Static) Name() string {
	if s.path != "" {
		return "static:" + s.path
	}
	return "static"
}

func (s *Static) Fetch(ctx context.Context) ([]domain.RawPosting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.path == "" {
		return append([]domain.RawPosting(nil), s.items...), nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var f staticFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("yaml unmarshal %s: %w", s.path, err)
	}
	return f.Postings, nil
}
