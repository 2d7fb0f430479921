package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/types"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

const (
	// DefaultDiskSizeLimit is the default budget for the disk cache.
	DefaultDiskSizeLimit int64 = 4 << 30
	// DefaultInlineThreshold is the largest value stored inline in the index.
	DefaultInlineThreshold = 1024

	indexFileName = "index.db"
)

// DiskCacheConfig represents disk cache configuration
type DiskCacheConfig struct {
	Directory       string `yaml:"directory"`
	SizeLimit       int64  `yaml:"size_limit"`
	InlineThreshold int    `yaml:"inline_threshold"`
}

// DefaultDiskCacheConfig returns the default disk cache configuration.
func DefaultDiskCacheConfig() *DiskCacheConfig {
	return &DiskCacheConfig{
		SizeLimit:       DefaultDiskSizeLimit,
		InlineThreshold: DefaultInlineThreshold,
	}
}

// DiskEntry is the index metadata for one disk cache key.
type DiskEntry struct {
	Key string
	ID  int64
	// Value holds the base64 encoded bytes of an inline entry and is nil
	// when the bytes live in the blob file for ID.
	Value        *string
	OriginalSize int64
	CRC32        uint32
	Size         int64
	Valid        bool
}

// IsInline reports whether the entry's bytes are stored in the index.
func (e *DiskEntry) IsInline() bool {
	return e.Value != nil
}

// InlineBytes decodes an inline entry.
func (e *DiskEntry) InlineBytes() ([]byte, error) {
	if e.Value == nil {
		return nil, errors.NewError(errors.ErrCodeInternalError, "entry is not inline")
	}
	data, err := DecodeInline(*e.Value)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiskCacheCorrupt, "invalid inline value", err).
			WithContext("key", e.Key)
	}
	return data, nil
}

// DiskCache is a persistent key to blob store. Small values live in a
// SQLite index; large values are zstd compressed files named by entry id.
type DiskCache struct {
	db        *sql.DB
	directory string
	config    DiskCacheConfig

	// evictMu serializes size enforcement.
	evictMu sync.Mutex

	statsMu sync.Mutex
	stats   types.CacheStats

	logger  *utils.StructuredLogger
	metrics types.MetricsCollector
}

// NewDiskCache opens (or creates) the disk cache rooted at config.Directory.
func NewDiskCache(config *DiskCacheConfig, opts ...Option) (*DiskCache, error) {
	if config == nil {
		config = DefaultDiskCacheConfig()
	}
	cfg := *config
	if cfg.SizeLimit <= 0 {
		cfg.SizeLimit = DefaultDiskSizeLimit
	}
	if cfg.InlineThreshold <= 0 {
		cfg.InlineThreshold = DefaultInlineThreshold
	}
	if cfg.Directory == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "no disk cache directory configured", err)
		}
		cfg.Directory = filepath.Join(base, "cradle")
	}

	if err := os.MkdirAll(cfg.Directory, 0o750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiskIndex, "failed to create cache directory", err).
			WithContext("directory", cfg.Directory)
	}

	o := buildOptions("disk_cache", opts)

	db, err := openIndex(o.ctx, filepath.Join(cfg.Directory, indexFileName))
	if err != nil {
		return nil, err
	}

	c := &DiskCache{
		db:        db,
		directory: cfg.Directory,
		config:    cfg,
		stats:     types.CacheStats{Capacity: cfg.SizeLimit},
		logger:    o.logger.WithField("directory", cfg.Directory),
		metrics:   o.metrics,
	}

	if err := c.purgeStale(o.ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func openIndex(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiskIndex, "failed to open index", err)
	}
	// One connection keeps SQLite from reporting SQLITE_BUSY between our
	// own goroutines; statements are short and file I/O happens outside.
	db.SetMaxOpenConns(1)

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			value TEXT,
			original_size INTEGER NOT NULL DEFAULT 0,
			crc32 INTEGER NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0,
			valid INTEGER NOT NULL DEFAULT 0,
			last_accessed INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_lru ON entries(valid, last_accessed)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(errors.ErrCodeDiskIndex, "failed to initialize index", err).
				WithContext("path", path)
		}
	}
	return db, nil
}

// purgeStale drops reservations left by a writer that never finished and
// removes blob files the index no longer knows about.
func (c *DiskCache) purgeStale(ctx context.Context) error {
	ids, err := c.deleteRows(ctx, `DELETE FROM entries WHERE valid = 0 RETURNING id`)
	if err != nil {
		return err
	}
	for _, id := range ids {
		c.removeFile(id)
	}

	known := make(map[int64]struct{})
	rows, err := c.db.QueryContext(ctx, `SELECT id FROM entries WHERE value IS NULL`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDiskIndex, "failed to list entries", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.Wrap(errors.ErrCodeDiskIndex, "failed to list entries", err)
		}
		known[id] = struct{}{}
	}
	err = rows.Err()
	rows.Close()
	// An incomplete listing would make every blob look orphaned.
	if err != nil {
		return errors.Wrap(errors.ErrCodeDiskIndex, "failed to list entries", err)
	}

	dirEntries, err := os.ReadDir(c.directory)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDiskIndex, "failed to read cache directory", err)
	}
	orphans := 0
	for _, de := range dirEntries {
		id, err := strconv.ParseInt(de.Name(), 10, 64)
		if err != nil || de.IsDir() {
			continue
		}
		if _, ok := known[id]; !ok {
			c.removeFile(id)
			orphans++
		}
	}

	if len(ids) > 0 || orphans > 0 {
		c.logger.Info("recovered disk cache", map[string]interface{}{
			"stale_reservations": len(ids),
			"orphaned_files":     orphans,
		})
	}
	return nil
}

// Directory returns the cache root.
func (c *DiskCache) Directory() string {
	return c.directory
}

// InlineThreshold returns the largest value size stored inline.
func (c *DiskCache) InlineThreshold() int {
	return c.config.InlineThreshold
}

// PathForID returns the blob file for an entry id.
func (c *DiskCache) PathForID(id int64) string {
	return filepath.Join(c.directory, strconv.FormatInt(id, 10))
}

// Find returns the finished entry for key, or nil when there is none.
func (c *DiskCache) Find(ctx context.Context, key string) (*DiskEntry, error) {
	entry := &DiskEntry{Key: key, Valid: true}
	var (
		value sql.NullString
		crc   int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, value, original_size, crc32, size FROM entries WHERE key = ? AND valid = 1`, key,
	).Scan(&entry.ID, &value, &entry.OriginalSize, &crc, &entry.Size)
	if err == sql.ErrNoRows {
		c.recordLookup(false)
		return nil, nil
	}
	if err != nil {
		return nil, c.indexError("find", err)
	}
	if value.Valid {
		entry.Value = &value.String
	}
	entry.CRC32 = uint32(crc)

	if _, err := c.db.ExecContext(ctx,
		`UPDATE entries SET last_accessed = ? WHERE id = ?`, now(), entry.ID); err != nil {
		c.logger.Debug("failed to update access time", map[string]interface{}{"error": err})
	}
	c.recordLookup(true)
	return entry, nil
}

// Insert stores a small value inline, replacing any entry for key.
func (c *DiskCache) Insert(ctx context.Context, key string, value []byte) error {
	encoded := EncodeInline(value)
	if err := c.replace(ctx, key, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entries (key, value, original_size, size, valid, last_accessed) VALUES (?, ?, ?, ?, 1, ?)`,
			key, encoded, len(value), len(encoded), now())
		return err
	}); err != nil {
		return err
	}
	return c.enforceLimit(ctx)
}

// InitiateInsert reserves an entry for key and returns its id. The entry
// stays invisible to Find until FinishInsert; the caller writes the blob to
// PathForID(id) in between.
func (c *DiskCache) InitiateInsert(ctx context.Context, key string) (int64, error) {
	var id int64
	err := c.replace(ctx, key, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entries (key, valid, last_accessed) VALUES (?, 0, ?)`, key, now())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// FinishInsert publishes a reserved entry once its blob is written.
func (c *DiskCache) FinishInsert(ctx context.Context, id int64, checksum uint32, originalSize int64) error {
	info, err := os.Stat(c.PathForID(id))
	if err != nil {
		return errors.Wrap(errors.ErrCodeDiskCacheWrite, "blob file missing", err).
			WithComponent("disk_cache").WithOperation("finish_insert")
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE entries SET crc32 = ?, original_size = ?, size = ?, valid = 1, last_accessed = ?
		 WHERE id = ? AND valid = 0`,
		int64(checksum), originalSize, info.Size(), now(), id)
	if err != nil {
		return c.indexError("finish_insert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewError(errors.ErrCodeEntryNotFound,
			fmt.Sprintf("no pending entry with id %d", id)).
			WithComponent("disk_cache").WithOperation("finish_insert")
	}
	return c.enforceLimit(ctx)
}

// Remove deletes the entry for key, finished or not.
func (c *DiskCache) Remove(ctx context.Context, key string) error {
	ids, err := c.deleteRows(ctx, `DELETE FROM entries WHERE key = ? RETURNING id`, key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		c.removeFile(id)
	}
	return nil
}

// Clear deletes every finished entry.
func (c *DiskCache) Clear(ctx context.Context) error {
	ids, err := c.deleteRows(ctx, `DELETE FROM entries WHERE valid = 1 RETURNING id`)
	if err != nil {
		return err
	}
	for _, id := range ids {
		c.removeFile(id)
	}
	c.logger.Info("cleared disk cache", map[string]interface{}{"entries": len(ids)})
	return nil
}

// Summary reports entry counts and sizes.
func (c *DiskCache) Summary(ctx context.Context) (types.DiskCacheSummary, error) {
	summary := types.DiskCacheSummary{
		Directory: c.directory,
		SizeLimit: c.config.SizeLimit,
	}
	err := c.db.QueryRowContext(ctx, `SELECT
			COALESCE(SUM(valid = 1), 0),
			COALESCE(SUM(valid = 1 AND value IS NOT NULL), 0),
			COALESCE(SUM(valid = 1 AND value IS NULL), 0),
			COALESCE(SUM(valid = 0), 0),
			COALESCE(SUM(CASE WHEN valid = 1 THEN size ELSE 0 END), 0)
		FROM entries`,
	).Scan(&summary.Entries, &summary.InlineEntries, &summary.FileEntries,
		&summary.PendingInserts, &summary.TotalSize)
	if err != nil {
		return summary, c.indexError("summary", err)
	}
	return summary, nil
}

// Stats returns lookup statistics for this process.
func (c *DiskCache) Stats() types.CacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	stats := c.stats
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Close closes the index.
func (c *DiskCache) Close() error {
	return c.db.Close()
}

// replace runs insert in a transaction after deleting any existing entry
// for key, then removes the replaced blob file.
func (c *DiskCache) replace(ctx context.Context, key string, insert func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return c.indexError("insert", err)
	}
	defer tx.Rollback()

	var (
		oldID     int64
		hadOldRow = true
	)
	err = tx.QueryRowContext(ctx, `DELETE FROM entries WHERE key = ? RETURNING id`, key).Scan(&oldID)
	if err == sql.ErrNoRows {
		hadOldRow = false
	} else if err != nil {
		return c.indexError("insert", err)
	}

	if err := insert(tx); err != nil {
		return c.indexError("insert", err)
	}
	if err := tx.Commit(); err != nil {
		return c.indexError("insert", err)
	}
	if hadOldRow {
		c.removeFile(oldID)
	}
	return nil
}

// enforceLimit evicts the least recently accessed finished entries until
// the total size fits the budget. Reservations are never evicted.
func (c *DiskCache) enforceLimit(ctx context.Context) error {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var total int64
	if err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM entries WHERE valid = 1`).Scan(&total); err != nil {
		return c.indexError("evict", err)
	}
	if total <= c.config.SizeLimit {
		return nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, size FROM entries WHERE valid = 1 ORDER BY last_accessed ASC, id ASC`)
	if err != nil {
		return c.indexError("evict", err)
	}
	var victims []int64
	for total > c.config.SizeLimit && rows.Next() {
		var id, size int64
		if err := rows.Scan(&id, &size); err != nil {
			rows.Close()
			return c.indexError("evict", err)
		}
		victims = append(victims, id)
		total -= size
	}
	rows.Close()

	for _, id := range victims {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ? AND valid = 1`, id); err != nil {
			return c.indexError("evict", err)
		}
		c.removeFile(id)
	}

	if len(victims) > 0 {
		c.statsMu.Lock()
		c.stats.Evictions += uint64(len(victims))
		c.statsMu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordEvictions("disk", len(victims))
		}
		c.logger.Debug("evicted disk cache entries", map[string]interface{}{
			"count":      len(victims),
			"total_size": total,
		})
	}
	return nil
}

func (c *DiskCache) deleteRows(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.indexError("delete", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, c.indexError("delete", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, c.indexError("delete", err)
	}
	return ids, nil
}

// removeFile deletes the blob for id if there is one. Inline entries have
// no file, so a missing file is expected.
func (c *DiskCache) removeFile(id int64) {
	if err := os.Remove(c.PathForID(id)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove blob file", map[string]interface{}{
			"id":    id,
			"error": err,
		})
	}
}

func (c *DiskCache) recordLookup(hit bool) {
	c.statsMu.Lock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.statsMu.Unlock()

	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.RecordCacheHit("disk")
	} else {
		c.metrics.RecordCacheMiss("disk")
	}
}

func (c *DiskCache) indexError(op string, err error) error {
	if c.metrics != nil {
		c.metrics.RecordDiskError(op)
	}
	return errors.Wrap(errors.ErrCodeDiskIndex, "index "+op+" failed", err).
		WithComponent("disk_cache").
		WithOperation(op)
}

func now() int64 {
	return time.Now().UnixNano()
}
