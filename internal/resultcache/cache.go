// Package resultcache persists operation results that are too large to
// return inline and produces operation-specific summaries cheap enough to
// return instead. Entries live as sibling files under one root directory:
// `{id}.json` holds the full result, `{id}_meta.json` the metadata record.
package resultcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/core/observability"
	"github.com/openterra/geodata-tools/internal/geoerr"
)

const (
	DefaultTTL = 24 * time.Hour

	metaSuffix = "_meta.json"

	// inline thresholds
	maxInlineFeatures = 50
	maxInlineBytes    = 10 * 1024
)

type Config struct {
	RootDir string
	TTL     time.Duration
}

type Cache struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Cache, error) {
	if cfg.RootDir == "" {
		return nil, geoerr.MissingParameter("cache root dir")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{cfg: cfg, log: log.With(slog.String("component", "resultcache"))}, nil
}

// ShouldCache reports whether a result must be stored instead of returned
// inline: always for long-sequence operations, otherwise by feature count or
// serialized size.
func (c *Cache) ShouldCache(result map[string]any, toolName string) bool {
	if kindForTool(toolName) != KindGeneric {
		return true
	}
	if feats, ok := result["features"].([]any); ok && len(feats) > maxInlineFeatures {
		return true
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return false
	}
	return len(raw) > maxInlineBytes
}

// Put sweeps expired entries, then persists the result under a fresh id and
// returns the receipt. Repeated identical calls get distinct ids: the id
// carries the current unix timestamp, there is no de-duplication.
func (c *Cache) Put(result map[string]any, toolName string, params map[string]any) (model.CacheReceipt, error) {
	c.SweepExpired()

	now := time.Now()
	id := fmt.Sprintf("%s_%d_%s", toolName, now.Unix(), paramHash(params))
	dataPath := filepath.Join(c.cfg.RootDir, id+".json")

	raw, err := json.Marshal(result)
	if err != nil {
		return model.CacheReceipt{}, fmt.Errorf("serialize result: %w", err)
	}
	if err := os.WriteFile(dataPath, raw, 0o644); err != nil {
		return model.CacheReceipt{}, fmt.Errorf("write cache data: %w", err)
	}

	entry := model.CacheEntry{
		CacheID:       id,
		ToolName:      toolName,
		Params:        params,
		CreatedAt:     now,
		ExpiresAt:     now.Add(c.cfg.TTL),
		FilePath:      dataPath,
		FileSizeBytes: int64(len(raw)),
		Summary:       summarize(kindForTool(toolName), result, params),
	}
	meta, err := json.Marshal(entry)
	if err != nil {
		return model.CacheReceipt{}, fmt.Errorf("serialize cache metadata: %w", err)
	}
	if err := os.WriteFile(c.metaPath(id), meta, 0o644); err != nil {
		return model.CacheReceipt{}, fmt.Errorf("write cache metadata: %w", err)
	}

	observability.CachePuts.Inc()
	c.log.Info("cached result",
		slog.String("cache_id", id),
		slog.String("tool", toolName),
		slog.Int64("bytes", entry.FileSizeBytes))

	return model.CacheReceipt{
		Cached:     true,
		CacheID:    id,
		FilePath:   dataPath,
		FileSizeKB: math.Round(float64(len(raw))/1024*100) / 100,
		ExpiresAt:  entry.ExpiresAt,
		Summary:    entry.Summary,
		Usage: fmt.Sprintf("use get_cached_result with cache_id=%q for the summary, "+
			"or export_cached_result to write the full data to a file", id),
	}, nil
}

// Get returns an entry's metadata and summary, never the stored payload.
// Expired entries are deleted on lookup. The includeFullData flag is accepted
// for compatibility and ignored; the returned warning says so.
func (c *Cache) Get(cacheID string, includeFullData bool) (model.CacheEntry, string, error) {
	entry, err := c.readMeta(cacheID)
	if err != nil {
		observability.CacheMisses.Inc()
		return model.CacheEntry{}, "", err
	}
	if time.Now().After(entry.ExpiresAt) {
		c.remove(cacheID)
		observability.CacheExpired.Inc()
		return model.CacheEntry{}, "", geoerr.NotFound("cache entry " + cacheID + " (expired)")
	}
	observability.CacheHits.Inc()
	warning := ""
	if includeFullData {
		warning = "include_full_data is deprecated and ignored; use export for the full payload"
	}
	return entry, warning, nil
}

// List returns all non-expired entries.
func (c *Cache) List() ([]model.CacheEntry, error) {
	names, err := filepath.Glob(filepath.Join(c.cfg.RootDir, "*"+metaSuffix))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]model.CacheEntry, 0, len(names))
	for _, name := range names {
		id := strings.TrimSuffix(filepath.Base(name), metaSuffix)
		entry, err := c.readMeta(id)
		if err != nil {
			continue
		}
		if now.After(entry.ExpiresAt) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Export copies the stored payload to destPath, creating parent directories.
func (c *Cache) Export(cacheID, destPath string) (model.ExportResult, error) {
	if destPath == "" {
		return model.ExportResult{}, geoerr.MissingParameter("output_path")
	}
	entry, err := c.readMeta(cacheID)
	if err != nil {
		return model.ExportResult{}, err
	}
	if time.Now().After(entry.ExpiresAt) {
		c.remove(cacheID)
		return model.ExportResult{}, geoerr.NotFound("cache entry " + cacheID + " (expired)")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return model.ExportResult{}, fmt.Errorf("create export dir: %w", err)
	}
	src, err := os.Open(entry.FilePath)
	if err != nil {
		return model.ExportResult{}, geoerr.NotFound("cache entry " + cacheID)
	}
	defer src.Close()
	dst, err := os.Create(destPath)
	if err != nil {
		return model.ExportResult{}, fmt.Errorf("create export file: %w", err)
	}
	defer dst.Close()
	n, err := io.Copy(dst, src)
	if err != nil {
		return model.ExportResult{}, fmt.Errorf("copy cache data: %w", err)
	}

	c.log.Info("exported cache entry",
		slog.String("cache_id", cacheID),
		slog.String("output", destPath))
	return model.ExportResult{
		Success:       true,
		CacheID:       cacheID,
		OutputPath:    destPath,
		FileSizeBytes: n,
	}, nil
}

// Clear removes every entry and returns how many were removed.
func (c *Cache) Clear() (int, error) {
	names, err := filepath.Glob(filepath.Join(c.cfg.RootDir, "*"+metaSuffix))
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		id := strings.TrimSuffix(filepath.Base(name), metaSuffix)
		c.remove(id)
	}
	c.log.Info("cleared cache", slog.Int("entries", len(names)))
	return len(names), nil
}

// SweepExpired deletes any file whose modification time is older than the
// TTL. Deletion errors are swallowed: a concurrent sweep or lookup may have
// removed the file already.
func (c *Cache) SweepExpired() {
	entries, err := os.ReadDir(c.cfg.RootDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-c.cfg.TTL)
	swept := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(c.cfg.RootDir, e.Name()))
			swept++
		}
	}
	if swept > 0 {
		observability.CacheSwept.Add(float64(swept))
		c.log.Debug("swept expired cache files", slog.Int("files", swept))
	}
}

func (c *Cache) metaPath(id string) string {
	return filepath.Join(c.cfg.RootDir, id+metaSuffix)
}

func (c *Cache) dataPath(id string) string {
	return filepath.Join(c.cfg.RootDir, id+".json")
}

func (c *Cache) readMeta(id string) (model.CacheEntry, error) {
	raw, err := os.ReadFile(c.metaPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.CacheEntry{}, geoerr.NotFound("cache entry " + id)
		}
		return model.CacheEntry{}, err
	}
	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.CacheEntry{}, fmt.Errorf("corrupt cache metadata %s: %w", id, err)
	}
	return entry, nil
}

func (c *Cache) remove(id string) {
	_ = os.Remove(c.dataPath(id))
	_ = os.Remove(c.metaPath(id))
}

// paramHash is the first 8 hex digits of the xxhash of the canonical JSON
// encoding of params.
func paramHash(params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprint(params))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(raw))[:8]
}
