package server

import (
	"fmt"
)

// FileInfo the chunk layout of one committed partition file. Offsets
// are built when the worker commits the partition and are read-only
// afterwards: offsets[0] == 0, non-decreasing, offsets[numChunks] ==
// FileLength.
type FileInfo struct {
	Path         string
	ChunkOffsets []int64
	FileLength   int64
}

func NewFileInfo(path string, chunkOffsets []int64, fileLength int64) (*FileInfo, error) {
	if len(chunkOffsets) < 1 {
		return nil, fmt.Errorf("no chunk offsets for %s", path)
	}
	if chunkOffsets[0] != 0 {
		return nil, fmt.Errorf("the first chunk offset %d should be 0", chunkOffsets[0])
	}
	for i := 1; i < len(chunkOffsets); i++ {
		if chunkOffsets[i] < chunkOffsets[i-1] {
			return nil, fmt.Errorf("chunk offset %d decreases from %d to %d",
				i, chunkOffsets[i-1], chunkOffsets[i])
		}
	}
	last := chunkOffsets[len(chunkOffsets)-1]
	if last != fileLength {
		return nil, fmt.Errorf("the last chunk offset %d should be equal to file length %d",
			last, fileLength)
	}

	return &FileInfo{
		Path:         path,
		ChunkOffsets: chunkOffsets,
		FileLength:   fileLength,
	}, nil
}

func (fi *FileInfo) NumChunks() int {
	return len(fi.ChunkOffsets) - 1
}

// Segment translates a chunk index to its byte range.
func (fi *FileInfo) Segment(chunkIndex int) (offset int64, length int64, err error) {
	if chunkIndex < 0 || chunkIndex >= fi.NumChunks() {
		return 0, 0, fmt.Errorf("chunk index %d out of range [0, %d)", chunkIndex, fi.NumChunks())
	}
	offset = fi.ChunkOffsets[chunkIndex]
	length = fi.ChunkOffsets[chunkIndex+1] - offset
	return offset, length, nil
}

// Resolver locates the FileInfo behind (shuffleKey, filePath). The
// worker's disk store implements it; test fixtures substitute maps.
type Resolver interface {
	Lookup(shuffleKey string, filePath string) (*FileInfo, error)
}
