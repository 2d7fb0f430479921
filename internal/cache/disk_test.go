package cache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
)

func newTestDiskCache(t *testing.T, dir string, sizeLimit int64) *DiskCache {
	t.Helper()
	c, err := NewDiskCache(&DiskCacheConfig{Directory: dir, SizeLimit: sizeLimit})
	if err != nil {
		t.Fatalf("NewDiskCache failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func insertLarge(t *testing.T, c *DiskCache, key string, data []byte) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := c.InitiateInsert(ctx, key)
	if err != nil {
		t.Fatalf("InitiateInsert failed: %v", err)
	}
	crc, err := WriteBlob(c.PathForID(id), data)
	if err != nil {
		t.Fatalf("WriteBlob failed: %v", err)
	}
	if err := c.FinishInsert(ctx, id, crc, int64(len(data))); err != nil {
		t.Fatalf("FinishInsert failed: %v", err)
	}
	return id
}

func TestDiskCache_Defaults(t *testing.T) {
	c := newTestDiskCache(t, t.TempDir(), 0)
	if c.config.SizeLimit != DefaultDiskSizeLimit {
		t.Errorf("SizeLimit = %d, want %d", c.config.SizeLimit, DefaultDiskSizeLimit)
	}
	if c.InlineThreshold() != DefaultInlineThreshold {
		t.Errorf("InlineThreshold = %d, want %d", c.InlineThreshold(), DefaultInlineThreshold)
	}
	if _, err := os.Stat(filepath.Join(c.Directory(), indexFileName)); err != nil {
		t.Errorf("index file not created: %v", err)
	}
}

func TestDiskCache_InlineRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestDiskCache(t, t.TempDir(), 0)

	entry, err := c.Find(ctx, "missing")
	if err != nil || entry != nil {
		t.Fatalf("Find(missing) = (%v, %v), want (nil, nil)", entry, err)
	}

	if err := c.Insert(ctx, "small", []byte("my_blob_value")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	entry, err = c.Find(ctx, "small")
	if err != nil || entry == nil {
		t.Fatalf("Find(small) = (%v, %v)", entry, err)
	}
	if !entry.IsInline() || !entry.Valid {
		t.Fatalf("entry should be inline and valid: %+v", entry)
	}
	data, err := entry.InlineBytes()
	if err != nil || string(data) != "my_blob_value" {
		t.Errorf("InlineBytes = (%q, %v)", data, err)
	}
	if entry.OriginalSize != 13 {
		t.Errorf("OriginalSize = %d, want 13", entry.OriginalSize)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDiskCache_TwoPhaseInsert(t *testing.T) {
	ctx := context.Background()
	c := newTestDiskCache(t, t.TempDir(), 0)
	data := bytes.Repeat([]byte("large value "), 200)

	id, err := c.InitiateInsert(ctx, "large")
	if err != nil {
		t.Fatalf("InitiateInsert failed: %v", err)
	}
	if entry, _ := c.Find(ctx, "large"); entry != nil {
		t.Fatal("reserved entry must be invisible to Find")
	}
	summary, _ := c.Summary(ctx)
	if summary.PendingInserts != 1 || summary.Entries != 0 {
		t.Errorf("summary during insert = %+v", summary)
	}

	crc, err := WriteBlob(c.PathForID(id), data)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.FinishInsert(ctx, id, crc, int64(len(data))); err != nil {
		t.Fatalf("FinishInsert failed: %v", err)
	}

	entry, err := c.Find(ctx, "large")
	if err != nil || entry == nil {
		t.Fatalf("Find(large) = (%v, %v)", entry, err)
	}
	if entry.IsInline() || entry.ID != id || entry.CRC32 != crc || entry.OriginalSize != int64(len(data)) {
		t.Errorf("unexpected entry %+v", entry)
	}
	got, err := ReadBlob(c.PathForID(entry.ID), entry.OriginalSize, entry.CRC32)
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("ReadBlob = (%d bytes, %v)", len(got), err)
	}
}

func TestDiskCache_FinishInsertErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestDiskCache(t, t.TempDir(), 0)

	id, err := c.InitiateInsert(ctx, "no file")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.FinishInsert(ctx, id, 0, 10); !errors.HasCode(err, errors.ErrCodeDiskCacheWrite) {
		t.Errorf("missing blob: err = %v, want DISK_CACHE_WRITE", err)
	}

	// A second reservation for the same key supersedes the first.
	first, _ := c.InitiateInsert(ctx, "raced")
	second, _ := c.InitiateInsert(ctx, "raced")
	if first == second {
		t.Fatal("reservations must get distinct ids")
	}
	if _, err := WriteBlob(c.PathForID(first), []byte("stale")); err != nil {
		t.Fatal(err)
	}
	if err := c.FinishInsert(ctx, first, 0, 5); !errors.HasCode(err, errors.ErrCodeEntryNotFound) {
		t.Errorf("superseded reservation: err = %v, want ENTRY_NOT_FOUND", err)
	}
}

func TestDiskCache_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	large := bytes.Repeat([]byte{1, 2, 3, 4}, 1024)

	first, err := NewDiskCache(&DiskCacheConfig{Directory: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Insert(ctx, "small", []byte("tiny")); err != nil {
		t.Fatal(err)
	}
	insertLarge(t, first, "large", large)
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := newTestDiskCache(t, dir, 0)
	entry, err := second.Find(ctx, "small")
	if err != nil || entry == nil {
		t.Fatalf("small entry lost: (%v, %v)", entry, err)
	}
	entry, err = second.Find(ctx, "large")
	if err != nil || entry == nil {
		t.Fatalf("large entry lost: (%v, %v)", entry, err)
	}
	got, err := ReadBlob(second.PathForID(entry.ID), entry.OriginalSize, entry.CRC32)
	if err != nil || !bytes.Equal(got, large) {
		t.Errorf("large entry corrupted: %v", err)
	}
}

func TestDiskCache_PurgesStaleReservations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewDiskCache(&DiskCacheConfig{Directory: dir})
	if err != nil {
		t.Fatal(err)
	}
	id, err := first.InitiateInsert(ctx, "crashed")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(first.PathForID(id), []byte("partial"), 0o640); err != nil {
		t.Fatal(err)
	}
	orphan := filepath.Join(dir, "999999")
	if err := os.WriteFile(orphan, []byte("orphan"), 0o640); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := newTestDiskCache(t, dir, 0)
	summary, err := second.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.PendingInserts != 0 {
		t.Errorf("stale reservation not purged: %+v", summary)
	}
	for _, path := range []string{second.PathForID(id), orphan} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", path)
		}
	}
}

func TestDiskCache_PurgeKeepsBlobsWhenIndexFails(t *testing.T) {
	ctx := context.Background()
	c := newTestDiskCache(t, t.TempDir(), 0)
	id := insertLarge(t, c, "key", bytes.Repeat([]byte("x"), 4096))

	if err := c.db.Close(); err != nil {
		t.Fatal(err)
	}
	err := c.purgeStale(ctx)
	if !errors.HasCode(err, errors.ErrCodeDiskIndex) {
		t.Fatalf("purgeStale() = %v, want %s", err, errors.ErrCodeDiskIndex)
	}
	if _, err := os.Stat(c.PathForID(id)); err != nil {
		t.Errorf("blob of an indexed entry was removed: %v", err)
	}
}

func TestDiskCache_ReplaceRemovesOldBlob(t *testing.T) {
	ctx := context.Background()
	c := newTestDiskCache(t, t.TempDir(), 0)

	id := insertLarge(t, c, "key", bytes.Repeat([]byte("x"), 4096))
	if err := c.Insert(ctx, "key", []byte("now small")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(c.PathForID(id)); !os.IsNotExist(err) {
		t.Error("replaced blob file should be removed")
	}
	entry, _ := c.Find(ctx, "key")
	if entry == nil || !entry.IsInline() {
		t.Fatalf("replacement not visible: %+v", entry)
	}
}

func TestDiskCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	// Each inline entry is 8 base64 bytes for a 4 byte value.
	c := newTestDiskCache(t, t.TempDir(), 24)

	for i := 0; i < 3; i++ {
		if err := c.Insert(ctx, fmt.Sprintf("k%d", i), []byte("abcd")); err != nil {
			t.Fatal(err)
		}
	}
	// Touch k0 so k1 becomes the oldest.
	if entry, _ := c.Find(ctx, "k0"); entry == nil {
		t.Fatal("k0 should be present before eviction")
	}
	if err := c.Insert(ctx, "k3", []byte("abcd")); err != nil {
		t.Fatal(err)
	}

	for key, want := range map[string]bool{"k0": true, "k1": false, "k2": true, "k3": true} {
		entry, err := c.Find(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if (entry != nil) != want {
			t.Errorf("%s present = %v, want %v", key, entry != nil, want)
		}
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestDiskCache_EvictionSkipsReservations(t *testing.T) {
	ctx := context.Background()
	c := newTestDiskCache(t, t.TempDir(), 10)

	id, err := c.InitiateInsert(ctx, "pending")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Insert(ctx, "big", bytes.Repeat([]byte("z"), 64)); err != nil {
		t.Fatal(err)
	}
	if entry, _ := c.Find(ctx, "big"); entry != nil {
		t.Error("entry larger than the budget should be evicted")
	}
	if _, err := WriteBlob(c.PathForID(id), []byte("ok")); err != nil {
		t.Fatal(err)
	}
	if err := c.FinishInsert(ctx, id, Checksum([]byte("ok")), 2); err != nil {
		t.Errorf("reservation should survive eviction: %v", err)
	}
}

func TestDiskCache_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	c := newTestDiskCache(t, t.TempDir(), 0)

	largeID := insertLarge(t, c, "large", bytes.Repeat([]byte("y"), 2048))
	if err := c.Insert(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := c.Insert(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}

	if err := c.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if entry, _ := c.Find(ctx, "a"); entry != nil {
		t.Error("removed entry still visible")
	}

	summary, _ := c.Summary(ctx)
	if summary.Entries != 2 || summary.InlineEntries != 1 || summary.FileEntries != 1 {
		t.Errorf("summary = %+v", summary)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	summary, _ = c.Summary(ctx)
	if summary.Entries != 0 || summary.TotalSize != 0 {
		t.Errorf("summary after clear = %+v", summary)
	}
	if _, err := os.Stat(c.PathForID(largeID)); !os.IsNotExist(err) {
		t.Error("Clear should remove blob files")
	}
}

func TestDiskCache_ConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	c := newTestDiskCache(t, t.TempDir(), 0)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		i := i
		g.Go(func() error {
			key := fmt.Sprintf("key-%d", i)
			if i%2 == 0 {
				return c.Insert(ctx, key, []byte(key))
			}
			id, err := c.InitiateInsert(ctx, key)
			if err != nil {
				return err
			}
			data := bytes.Repeat([]byte(key), 200)
			crc, err := WriteBlob(c.PathForID(id), data)
			if err != nil {
				return err
			}
			return c.FinishInsert(ctx, id, crc, int64(len(data)))
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent insert failed: %v", err)
	}

	summary, err := c.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Entries != 16 || summary.FileEntries != 8 {
		t.Errorf("summary = %+v", summary)
	}
}
