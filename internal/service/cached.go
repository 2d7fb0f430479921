package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/thomasrockhu-codecov/cradle/internal/cache"
	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/id"
)

// Producer computes a value on a cache miss.
type Producer[V any] func(ctx context.Context) (V, error)

// Cached memoizes create in the memory cache only.
func Cached[V any](core *Core, key id.CapturedID, create cache.CreateFunc[V]) *cache.Task[V] {
	return cache.GetOrCreate(core.memory, key, create)
}

// FullyCached memoizes create in memory, backed by the disk cache. Concurrent
// callers for the same key share one disk lookup and at most one call to
// create.
func FullyCached[V any](core *Core, key id.CapturedID, codec Codec[V], create Producer[V]) *cache.Task[V] {
	return cache.GetOrCreate(core.memory, key, func(ctx context.Context, k id.ID) (V, error) {
		return DiskCached(ctx, core, k, codec, create)
	})
}

// DiskCachedBlob is DiskCached for raw byte values.
func DiskCachedBlob(ctx context.Context, core *Core, key id.ID, create Producer[[]byte]) ([]byte, error) {
	return DiskCached[[]byte](ctx, core, key, BlobCodec{}, create)
}

// DiskCached returns the value stored on disk for key, or calls create and
// persists its result in the background. Disk errors are logged and
// treated as misses; only errors from create are returned.
func DiskCached[V any](ctx context.Context, core *Core, key id.ID, codec Codec[V], create Producer[V]) (V, error) {
	diskKey := DiskKey(key)
	logger := core.logger.WithField("key", id.String(key))

	if value, ok, err := readDisk(ctx, core, diskKey, codec); err != nil {
		var zero V
		return zero, err
	} else if ok {
		logger.Debug("disk cache hit")
		return value, nil
	}
	logger.Debug("disk cache miss")

	value, err := create(ctx)
	if err != nil {
		return value, err
	}

	data, err := codec.Encode(value)
	if err != nil {
		logger.Warn("error writing disk cache entry", map[string]interface{}{"error": err})
		return value, nil
	}
	trial := false
	if !core.health.CanWrite(ComponentDisk) {
		if trial = core.allowWriteTrial(); !trial {
			logger.Debug("disk cache is not accepting writes")
			return value, nil
		}
		logger.Debug("trying disk cache write while disk is unhealthy")
	}
	core.writePool.Submit(core.ctx, func(ctx context.Context) {
		if err := writeDisk(ctx, core, diskKey, data); err != nil {
			logger.Warn("error writing disk cache entry", map[string]interface{}{"error": err})
			core.health.RecordError(ComponentDisk, err)
			return
		}
		if trial {
			core.health.MarkHealthy(ComponentDisk)
			return
		}
		core.health.RecordSuccess(ComponentDisk)
	})
	return value, nil
}

// DiskKey returns the disk cache key for an identity.
func DiskKey(key id.ID) string {
	sum := sha256.Sum256([]byte(id.String(key)))
	return hex.EncodeToString(sum[:])
}

// readDisk looks up diskKey. Only cancellation of ctx is reported as an
// error; every disk problem is a miss.
func readDisk[V any](ctx context.Context, core *Core, diskKey string, codec Codec[V]) (V, bool, error) {
	var zero V
	logger := core.logger.WithField("disk_key", diskKey)
	if !core.health.CanRead(ComponentDisk) {
		return zero, false, nil
	}

	entry, err := core.disk.Find(ctx, diskKey)
	if err != nil {
		logger.Warn("error reading disk cache entry", map[string]interface{}{"error": err})
		core.health.RecordError(ComponentDisk, err)
		return zero, false, nil
	}
	if entry == nil {
		return zero, false, nil
	}

	var data []byte
	if entry.IsInline() {
		data, err = entry.InlineBytes()
	} else {
		poolErr := core.readPool.Do(ctx, func(context.Context) error {
			data, err = readBlob(core.disk.PathForID(entry.ID), entry)
			return nil
		})
		if poolErr != nil {
			return zero, false, poolErr
		}
	}
	if err != nil {
		logger.Warn("error reading disk cache entry", map[string]interface{}{"error": err})
		discard(core, diskKey)
		return zero, false, nil
	}

	value, err := codec.Decode(data)
	if err != nil {
		logger.Warn("error reading disk cache entry", map[string]interface{}{"error": err})
		discard(core, diskKey)
		return zero, false, nil
	}
	return value, true, nil
}

// readBlob reads the blob behind entry. A panic while decoding counts as
// corruption.
func readBlob(path string, entry *cache.DiskEntry) (data []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			data = nil
			err = errors.NewError(errors.ErrCodeDiskCacheCorrupt, fmt.Sprintf("panic reading blob: %v", rec)).
				WithComponent("disk_cache").
				WithContext("path", path)
		}
	}()
	return cache.ReadBlob(path, entry.OriginalSize, entry.CRC32)
}

// writeDisk stores data inline when it is small and as a compressed blob
// otherwise.
func writeDisk(ctx context.Context, core *Core, diskKey string, data []byte) error {
	if len(data) <= core.disk.InlineThreshold() {
		return core.disk.Insert(ctx, diskKey, data)
	}

	entryID, err := core.disk.InitiateInsert(ctx, diskKey)
	if err != nil {
		return err
	}
	path := core.disk.PathForID(entryID)
	checksum, err := cache.WriteBlob(path, data)
	if err != nil {
		os.Remove(path)
		return err
	}
	if err := core.disk.FinishInsert(ctx, entryID, checksum, int64(len(data))); err != nil {
		// A newer write for the same key replaced our reservation.
		if errors.HasCode(err, errors.ErrCodeEntryNotFound) {
			os.Remove(path)
		}
		return err
	}
	return nil
}

// discard drops a corrupt entry so the next write replaces it cleanly.
func discard(core *Core, diskKey string) {
	if err := core.disk.Remove(core.ctx, diskKey); err != nil {
		core.logger.Warn("failed to discard disk cache entry", map[string]interface{}{
			"disk_key": diskKey,
			"error":    err,
		})
	}
}

// StoreBlob writes data under a raw disk cache key and waits for the write
// to finish. Unlike DiskCached it reports disk errors.
func StoreBlob(ctx context.Context, core *Core, diskKey string, data []byte) error {
	if diskKey == "" {
		return errors.NewError(errors.ErrCodeValidationFailed, "disk cache key is required").
			WithComponent("service")
	}
	if err := writeDisk(ctx, core, diskKey, data); err != nil {
		core.health.RecordError(ComponentDisk, err)
		return err
	}
	core.health.RecordSuccess(ComponentDisk)
	return nil
}

// LoadBlob reads the value stored under a raw disk cache key. A missing or
// unreadable entry is reported as found == false.
func LoadBlob(ctx context.Context, core *Core, diskKey string) (data []byte, found bool, err error) {
	return readDisk[[]byte](ctx, core, diskKey, BlobCodec{})
}
