package server

import (
	"fmt"
	"strconv"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/GOptimistic/CloudShuffleService-fork/network/buffer"
)

// ChunkStream the per-open cursor state of one registered stream. The
// worker enforces strictly increasing chunk order starting at the
// initChunkIndex declared at open time.
type ChunkStream struct {
	Id         int64
	ClientId   string
	ShuffleKey string
	FilePath   string

	fi     *FileInfo
	cursor int64
}

// StreamManager hands out stream ids and resolves (streamId,
// chunkIndex) fetches to file segments. One instance per server.
type StreamManager struct {
	seq     int64
	streams cmap.ConcurrentMap
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		streams: cmap.New(),
	}
}

// Register creates a stream over fi with its cursor at initChunkIndex.
func (m *StreamManager) Register(clientId string, shuffleKey string, filePath string, fi *FileInfo, initChunkIndex int) *ChunkStream {
	stream := &ChunkStream{
		Id:         atomic.AddInt64(&m.seq, 1),
		ClientId:   clientId,
		ShuffleKey: shuffleKey,
		FilePath:   filePath,
		fi:         fi,
		cursor:     int64(initChunkIndex),
	}
	m.streams.Set(streamKey(stream.Id), stream)
	return stream
}

// Fetch validates the cursor and translates the chunk to a file
// segment. The cursor advances after a successful translation.
func (m *StreamManager) Fetch(streamId int64, chunkIndex int) (buffer.ManagedBuffer, error) {
	loaded, ok := m.streams.Get(streamKey(streamId))
	if !ok {
		return nil, fmt.Errorf("stream %d not registered", streamId)
	}
	stream := loaded.(*ChunkStream)

	cursor := atomic.LoadInt64(&stream.cursor)
	if int64(chunkIndex) != cursor {
		return nil, fmt.Errorf("stream %d expects chunk %d, got %d", streamId, cursor, chunkIndex)
	}

	offset, length, err := stream.fi.Segment(chunkIndex)
	if err != nil {
		return nil, err
	}

	atomic.AddInt64(&stream.cursor, 1)
	return buffer.NewFileSegmentBuffer(stream.fi.Path, offset, length), nil
}

// Release drops the stream state. Idempotent.
func (m *StreamManager) Release(streamId int64) {
	m.streams.Remove(streamKey(streamId))
}

// ReleaseClient drops every stream registered by clientId and returns
// how many were released.
func (m *StreamManager) ReleaseClient(clientId string) int {
	released := 0
	for tuple := range m.streams.IterBuffered() {
		if tuple.Val.(*ChunkStream).ClientId == clientId {
			m.streams.Remove(tuple.Key)
			released++
		}
	}
	return released
}

func (m *StreamManager) Count() int {
	return m.streams.Count()
}

func streamKey(streamId int64) string {
	return strconv.FormatInt(streamId, 10)
}
