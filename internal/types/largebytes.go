package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// BlobStore is the external-storage side channel for large byte blobs,
// keyed by content hash. Predicate columns for a LargeBytes field store
// only the hash; the bytes themselves live under Dir. An LRU of open file
// handles bounds the number of blobs kept resident, per spec section 5.
type BlobStore struct {
	dir     string
	mu      sync.Mutex
	handles *lru.Cache // hash -> *os.File, evicted entries are closed
}

// NewBlobStore opens (creating if needed) a content-addressed blob store
// rooted at dir, keeping at most cacheSize open file handles resident.
func NewBlobStore(dir string, cacheSize int) (*BlobStore, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
	}
	bs := &BlobStore{dir: dir}
	cache, err := lru.NewWithEvict(cacheSize, func(_ interface{}, v interface{}) {
		if f, ok := v.(*os.File); ok {
			f.Close()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: new lru: %w", err)
	}
	bs.handles = cache
	return bs, nil
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (bs *BlobStore) path(hash string) string {
	return filepath.Join(bs.dir, hash)
}

// Put stores data under its content hash and returns the hash, writing the
// file only if it is not already present.
func (bs *BlobStore) Put(data []byte) (string, error) {
	hash := hashOf(data)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if _, ok := bs.handles.Get(hash); ok {
		return hash, nil
	}
	p := bs.path(hash)
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("blobstore: write %s: %w", p, err)
	}
	return hash, nil
}

// Get reads back the bytes stored under hash, opening (and caching) a file
// handle for it.
func (bs *BlobStore) Get(hash string) ([]byte, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	var f *os.File
	if cached, ok := bs.handles.Get(hash); ok {
		f = cached.(*os.File)
		if _, err := f.Seek(0, 0); err != nil {
			f.Close()
			bs.handles.Remove(hash)
			f = nil
		}
	}
	if f == nil {
		opened, err := os.Open(bs.path(hash))
		if err != nil {
			return nil, fmt.Errorf("blobstore: open %s: %w", hash, err)
		}
		f = opened
		bs.handles.Add(hash, f)
	}
	return os.ReadFile(bs.path(hash))
}

// largeBytesType is the built-in externally-stored byte blob type.
type largeBytesType struct {
	namedScalar
	store *BlobStore
}

// NewLargeBytesType builds the built-in large-blob type backed by store.
// Each Holmes engine instance owns exactly one, since the column
// representation (a hash string) is store-independent but extraction and
// binding need the store to round-trip the payload.
func NewLargeBytesType(store *BlobStore) Type {
	return largeBytesType{namedScalar: "largebytes", store: store}
}

func (largeBytesType) Repr() []ColumnSpec { return []ColumnSpec{{Name: "hash", SQLType: "TEXT"}} }

func (t largeBytesType) Extract(c Cursor) (Value, error) {
	raw, err := c.Next()
	if err != nil {
		return Value{}, err
	}
	hash, ok := raw.(string)
	if !ok {
		return Value{}, fmt.Errorf("largebytes: cannot convert %T", raw)
	}
	data, err := t.store.Get(hash)
	if err != nil {
		return Value{}, fmt.Errorf("largebytes: %w", err)
	}
	return NewValue(t, data), nil
}

func (t largeBytesType) Bind(v Value, sink ParamSink) error {
	data, ok := v.raw.([]byte)
	if !ok {
		return fmt.Errorf("largebytes.Bind: value has raw type %T", v.raw)
	}
	hash, err := t.store.Put(data)
	if err != nil {
		return fmt.Errorf("largebytes.Bind: %w", err)
	}
	sink.Put(hash)
	return nil
}

func (t largeBytesType) Equal(o Type) bool {
	name, named := o.Name()
	return named && name == "largebytes"
}

// LargeBytesValue builds a Value of the large-blob type from its payload.
func LargeBytesValue(t Type, data []byte) Value { return NewValue(t, data) }
