// internal/locators/manager.go
package locators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// SourceReader loads the text of a reference source.
type SourceReader interface {
	ReadSource(ctx context.Context, sourceID string) (string, error)
}

// sourceExtensions are tried in order when resolving a source id to a file.
var sourceExtensions = []string{"", ".js", ".ts", ".mjs", ".txt"}

// FileSourceReader reads sources from files named after the source id.
type FileSourceReader struct {
	Dir string
}

// ReadSource implements SourceReader.
func (f FileSourceReader) ReadSource(ctx context.Context, sourceID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sourceID == "" || filepath.Base(sourceID) != sourceID {
		return "", fmt.Errorf("invalid source id %q", sourceID)
	}
	dir, err := homedir.Expand(f.Dir)
	if err != nil {
		return "", fmt.Errorf("failed to expand sources dir %q: %w", f.Dir, err)
	}
	for _, ext := range sourceExtensions {
		data, err := os.ReadFile(filepath.Join(dir, sourceID+ext))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to read source %q: %w", sourceID, err)
		}
	}
	return "", fmt.Errorf("source %q not found in %s: %w", sourceID, dir, os.ErrNotExist)
}

// Manager answers known selector lookups: cache, then registry, then static
// extraction from the source text. Each source is read at most once per
// Manager, even under concurrent misses.
type Manager struct {
	logger    *zap.Logger
	cache     *Cache
	registry  *Registry
	extractor *Extractor
	reader    SourceReader

	group   singleflight.Group
	mu      sync.RWMutex
	sources map[string]string
}

// NewManager wires a manager. registry and reader may be nil.
func NewManager(logger *zap.Logger, cache *Cache, registry *Registry, reader SourceReader) *Manager {
	if cache == nil {
		cache = NewCache()
	}
	return &Manager{
		logger:    logger.Named("locators"),
		cache:     cache,
		registry:  registry,
		extractor: NewExtractor(),
		reader:    reader,
		sources:   make(map[string]string),
	}
}

// NewManagerFromConfig loads the registry file when one is configured and
// reads sources from the configured directory.
func NewManagerFromConfig(logger *zap.Logger, cfg config.LocatorsConfig) (*Manager, error) {
	var reg *Registry
	if cfg.RegistryFile != "" {
		r, err := LoadRegistry(cfg.RegistryFile)
		if err != nil {
			return nil, err
		}
		reg = r
	}
	var reader SourceReader
	if cfg.SourcesDir != "" {
		reader = FileSourceReader{Dir: cfg.SourcesDir}
	}
	return NewManager(logger, NewCache(), reg, reader), nil
}

// GetLocator returns the selector for (sourceID, key) or a SourceParseError.
func (m *Manager) GetLocator(ctx context.Context, sourceID, key string) (string, error) {
	lk := schemas.LocatorKey{SourceID: sourceID, Key: key}
	if sel, ok := m.cache.Get(lk); ok {
		return sel, nil
	}

	if sel, ok := m.registry.Lookup(sourceID, key); ok {
		m.logger.Debug("Locator served from registry.", zap.Stringer("key", lk))
		return m.cache.PutIfAbsent(lk, sel), nil
	}

	if m.reader == nil {
		return "", &schemas.SourceParseError{SourceID: sourceID, Key: key, Err: errors.New("no source reader configured")}
	}
	text, err := m.source(ctx, sourceID)
	if err != nil {
		return "", &schemas.SourceParseError{SourceID: sourceID, Key: key, Err: err}
	}

	sel, shape, err := m.extractor.ExtractShape(text, key)
	if err != nil {
		return "", &schemas.SourceParseError{SourceID: sourceID, Key: key}
	}
	m.logger.Debug("Locator extracted from source.",
		zap.Stringer("key", lk),
		zap.String("shape", string(shape)),
		zap.String("selector", sel))
	return m.cache.PutIfAbsent(lk, sel), nil
}

// source returns the text of sourceID, reading it once.
func (m *Manager) source(ctx context.Context, sourceID string) (string, error) {
	m.mu.RLock()
	text, ok := m.sources[sourceID]
	m.mu.RUnlock()
	if ok {
		return text, nil
	}

	v, err, _ := m.group.Do(sourceID, func() (interface{}, error) {
		m.mu.RLock()
		text, ok := m.sources[sourceID]
		m.mu.RUnlock()
		if ok {
			return text, nil
		}
		text, err := m.reader.ReadSource(ctx, sourceID)
		if err != nil {
			return "", err
		}
		m.mu.Lock()
		m.sources[sourceID] = text
		m.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Cache exposes the underlying cache for invalidation.
func (m *Manager) Cache() *Cache { return m.cache }
