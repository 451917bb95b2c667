package exportcache

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ExportCache keeps generated export archives on the local disk, so that
// repeated downloads of an unchanged task don't rebuild the archive.
// Items are evicted least-recently-used first, once the cache grows beyond maxBytes.
// Items that are open for reading are never evicted.
type ExportCache struct {
	log       logs.Log
	cacheRoot string
	maxBytes  int64

	itemsLock sync.Mutex
	bytesUsed int64
	items     map[string]*cacheItem
	tick      int64
}

type cacheItem struct {
	key       string
	filename  string
	size      int64
	lock      int
	lastUsed  int64
	stale     bool // Invalidated while open. The file is deleted when the last reader closes.
	createdAt time.Time
}

// BuildFunc writes the content of a cache item
type BuildFunc func(dst io.Writer) error

type CacheItemReader struct {
	cache *ExportCache
	item  *cacheItem
	f     *os.File
}

func (r *CacheItemReader) Read(p []byte) (n int, err error) {
	return r.f.Read(p)
}

func (r *CacheItemReader) Seek(offset int64, whence int) (int64, error) {
	return r.f.Seek(offset, whence)
}

func (r *CacheItemReader) Close() error {
	err := r.f.Close()
	r.cache.itemsLock.Lock()
	defer r.cache.itemsLock.Unlock()
	r.item.lock--
	if r.item.stale && r.item.lock == 0 {
		os.Remove(r.item.filename)
	}
	return err
}

func (r *CacheItemReader) Size() int64 {
	return r.item.size
}

func (r *CacheItemReader) CreatedAt() time.Time {
	return r.item.createdAt
}

// NewExportCache wipes cacheRoot and starts an empty cache there
func NewExportCache(log logs.Log, cacheRoot string, maxBytes int64) (*ExportCache, error) {
	os.RemoveAll(cacheRoot)
	if err := os.MkdirAll(cacheRoot, 0755); err != nil {
		return nil, err
	}
	return &ExportCache{
		log:       log,
		cacheRoot: cacheRoot,
		maxBytes:  maxBytes,
		items:     map[string]*cacheItem{},
	}, nil
}

// Open returns the item with the given key, calling 'build' to create it if it is not in the cache.
// Keys are opaque, such as "tasks/12/CVAT for images 1.1/images/3".
func (c *ExportCache) Open(key string, build BuildFunc) (*CacheItemReader, error) {
	c.itemsLock.Lock()
	item := c.items[key]
	if item != nil {
		r, err := c.openItem(item)
		c.itemsLock.Unlock()
		return r, err
	}
	c.itemsLock.Unlock()

	// Build without holding the lock. If two requests race, the second result is discarded.
	// Every build gets a unique file, so that a stale reader never deletes a newer item.
	filename := filepath.Join(c.cacheRoot, uuid.NewString())
	size, err := c.build(filename, build)
	if err != nil {
		os.Remove(filename)
		return nil, err
	}

	c.itemsLock.Lock()
	defer c.itemsLock.Unlock()
	if existing := c.items[key]; existing != nil {
		os.Remove(filename)
		item = existing
	} else {
		item = &cacheItem{
			key:       key,
			filename:  filename,
			size:      size,
			createdAt: time.Now().UTC(),
		}
		c.items[key] = item
		c.bytesUsed += size
		c.log.Infof("Export cache: added %v (%v). %v in use", key, humanize.Bytes(uint64(size)), humanize.Bytes(uint64(c.bytesUsed)))
	}
	r, err := c.openItem(item)
	if err != nil {
		return nil, err
	}
	c.purgeStale()
	return r, nil
}

func (c *ExportCache) build(tempFile string, build BuildFunc) (int64, error) {
	f, err := os.Create(tempFile)
	if err != nil {
		return 0, err
	}
	err = build(f)
	if errClose := f.Close(); err == nil {
		err = errClose
	}
	if err != nil {
		return 0, err
	}
	st, err := os.Stat(tempFile)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Must be called with itemsLock held
func (c *ExportCache) openItem(item *cacheItem) (*CacheItemReader, error) {
	f, err := os.Open(item.filename)
	if err != nil {
		return nil, err
	}
	item.lock++
	item.lastUsed = c.tick
	c.tick++
	return &CacheItemReader{
		cache: c,
		item:  item,
		f:     f,
	}, nil
}

// Invalidate removes every item whose key starts with prefix
func (c *ExportCache) Invalidate(prefix string) {
	c.itemsLock.Lock()
	defer c.itemsLock.Unlock()
	for key, item := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeItem(item)
		}
	}
}

// Must be called with itemsLock held
func (c *ExportCache) removeItem(item *cacheItem) {
	delete(c.items, item.key)
	c.bytesUsed -= item.size
	if item.lock == 0 {
		os.Remove(item.filename)
	} else {
		item.stale = true
	}
}

func (c *ExportCache) BytesUsed() int64 {
	c.itemsLock.Lock()
	defer c.itemsLock.Unlock()
	return c.bytesUsed
}

// Must be called with itemsLock held
func (c *ExportCache) purgeStale() {
	if c.bytesUsed <= c.maxBytes {
		return
	}
	unused := []*cacheItem{}
	for _, item := range c.items {
		if item.lock == 0 {
			unused = append(unused, item)
		}
	}
	sort.Slice(unused, func(i, j int) bool {
		return unused[i].lastUsed < unused[j].lastUsed
	})
	for _, item := range unused {
		if c.bytesUsed <= c.maxBytes {
			break
		}
		c.log.Debugf("Export cache: evicting %v", item.key)
		c.removeItem(item)
	}
}
