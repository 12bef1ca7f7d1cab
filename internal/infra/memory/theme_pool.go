package memory

import (
	"context"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"word-guess-service/internal/domain"
)

// ThemeLoader fetches the successor theme list from a backing store.
type ThemeLoader interface {
	LoadThemes(ctx context.Context) ([]string, error)
}

// ThemePool caches the theme list with TTL and serves uniform random picks
// for auto-chained sessions.
type ThemePool struct {
	loader ThemeLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.Mutex
	themes    []string
	expiresAt time.Time
}

func NewThemePool(loader ThemeLoader, ttl time.Duration) *ThemePool {
	return &ThemePool{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pick returns one theme chosen uniformly at random, loading the list on a
// cache miss. Concurrent misses share a single load.
func (p *ThemePool) Pick(ctx context.Context) (string, error) {
	now := p.clock()

	p.mu.Lock()
	if len(p.themes) > 0 && p.expiresAt.After(now) {
		theme := p.themes[p.rnd.Intn(len(p.themes))]
		p.mu.Unlock()
		return theme, nil
	}
	p.mu.Unlock()

	_, err, _ := p.sf.Do("themes", func() (interface{}, error) {
		themes, err := p.loader.LoadThemes(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.themes = themes
		p.expiresAt = p.clock().Add(p.ttl)
		p.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.themes) == 0 {
		return "", domain.ErrNoThemes
	}
	return p.themes[p.rnd.Intn(len(p.themes))], nil
}

// StaticThemeLoader serves a fixed list (useful for tests/demos).
type StaticThemeLoader struct {
	themes []string
}

func NewStaticThemeLoader(themes []string) *StaticThemeLoader {
	return &StaticThemeLoader{themes: themes}
}

func (l *StaticThemeLoader) LoadThemes(_ context.Context) ([]string, error) {
	return l.themes, nil
}

// FileThemeLoader reads one theme per line from a text file.
type FileThemeLoader struct {
	path string
}

func NewFileThemeLoader(path string) *FileThemeLoader {
	return &FileThemeLoader{path: path}
}

func (l *FileThemeLoader) LoadThemes(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var themes []string
	for _, line := range strings.Split(string(data), "\n") {
		if theme := strings.TrimSpace(line); theme != "" {
			themes = append(themes, theme)
		}
	}
	return themes, nil
}
