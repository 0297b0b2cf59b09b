package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/kelindar/binary"
	cmap "github.com/orcaman/concurrent-map"

	"github.com/GOptimistic/CloudShuffleService-fork/common/logger"
	"github.com/GOptimistic/CloudShuffleService-fork/network/server"
)

var log logger.ILogger = &logger.ColorLogger{
	Prefix: "DiskStore ",
	Level:  logger.LOG_LEVEL_INFO,
	Color:  true,
}

const metaSuffix = ".meta"

// FileMeta the chunk layout persisted next to each committed partition
// file, so lookups survive worker restarts.
type FileMeta struct {
	ChunkOffsets []int64
	FileLength   int64
}

// DiskStore the worker-side registry of committed partition files,
// rooted at one directory: root/<shuffleKey>/<filePath> plus a .meta
// sidecar per file. Implements server.Resolver.
type DiskStore struct {
	root  string
	cache cmap.ConcurrentMap
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{
		root:  root,
		cache: cmap.New(),
	}
}

// Commit writes the partition file and its chunk layout. The file is
// immutable afterwards; re-committing the same path overwrites both.
func (s *DiskStore) Commit(shuffleKey string, filePath string, data []byte, chunkOffsets []int64) (*server.FileInfo, error) {
	path := filepath.Join(s.root, shuffleKey, filePath)
	fi, err := server.NewFileInfo(path, chunkOffsets, int64(len(data)))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}

	meta, err := binary.Marshal(&FileMeta{ChunkOffsets: chunkOffsets, FileLength: int64(len(data))})
	if err != nil {
		return nil, fmt.Errorf("serialize meta of %s: %v", path, err)
	}
	if err := os.WriteFile(path+metaSuffix, meta, 0644); err != nil {
		return nil, err
	}

	s.cache.Set(cacheKey(shuffleKey, filePath), fi)
	log.Info("Committed %s/%s: %s in %d chunks",
		shuffleKey, filePath, humanize.Bytes(uint64(len(data))), fi.NumChunks())
	return fi, nil
}

// Lookup resolves a committed file, loading and validating the meta
// sidecar on first use.
func (s *DiskStore) Lookup(shuffleKey string, filePath string) (*server.FileInfo, error) {
	key := cacheKey(shuffleKey, filePath)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*server.FileInfo), nil
	}

	path := filepath.Join(s.root, shuffleKey, filePath)
	raw, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		return nil, fmt.Errorf("no meta for %s: %v", path, err)
	}

	var meta FileMeta
	if err := binary.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("corrupt meta for %s: %v", path, err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if stat.Size() != meta.FileLength {
		return nil, fmt.Errorf("file %s is %d bytes, meta says %d", path, stat.Size(), meta.FileLength)
	}

	fi, err := server.NewFileInfo(path, meta.ChunkOffsets, meta.FileLength)
	if err != nil {
		return nil, err
	}

	s.cache.SetIfAbsent(key, fi)
	return fi, nil
}

// Evict drops the cached layout, forcing the next lookup to reload.
func (s *DiskStore) Evict(shuffleKey string, filePath string) {
	s.cache.Remove(cacheKey(shuffleKey, filePath))
}

func cacheKey(shuffleKey string, filePath string) string {
	return shuffleKey + "-" + filePath
}
