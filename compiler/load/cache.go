package load

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// recordCache stores decoded records of one archive, keyed by its digest.
// A nil *recordCache is a valid, always-missing cache.
type recordCache struct {
	dir string
	l   *loader
}

// cacheFormat is bumped whenever RawRecord changes shape.
const cacheFormat = 1

type cacheEntry struct {
	Format  int          `msgpack:"format"`
	Source  string       `msgpack:"source"`
	Records []*RawRecord `msgpack:"records"`
}

func (l *loader) newRecordCache(b Bundle, archivePath string) (*recordCache, error) {
	digest, err := fileDigest(archivePath)
	if err != nil {
		return nil, err
	}
	archiveDir, err := l.cachePath(b.Version, "records")
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(archiveDir, digest[:16])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &recordCache{dir: dir, l: l}, nil
}

func (c *recordCache) path(source string) string {
	sum := sha256.Sum256([]byte(source))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+".msgpack")
}

func (c *recordCache) get(source string) ([]*RawRecord, bool) {
	if c == nil {
		return nil, false
	}
	data, err := os.ReadFile(c.path(source))
	if err != nil {
		return nil, false
	}
	var e cacheEntry
	if err := msgpack.Unmarshal(data, &e); err != nil || e.Format != cacheFormat || e.Source != source {
		c.l.logger.Debug("stale record cache entry", "source", source, "error", err)
		return nil, false
	}
	c.l.logger.Debug("records loaded from cache", "source", source, "records", len(e.Records))
	return e.Records, true
}

func (c *recordCache) put(source string, recs []*RawRecord) {
	if c == nil {
		return
	}
	data, err := msgpack.Marshal(&cacheEntry{Format: cacheFormat, Source: source, Records: recs})
	if err == nil {
		err = writeFileAtomic(c.path(source), data)
	}
	if err != nil {
		c.l.logger.Warn("record cache write failed", "source", source, "error", err)
	}
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
