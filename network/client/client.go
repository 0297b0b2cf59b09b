package client

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mason-leap-lab/redeo/resp"

	"github.com/GOptimistic/CloudShuffleService-fork/common/logger"
	"github.com/GOptimistic/CloudShuffleService-fork/common/protocol"
	"github.com/GOptimistic/CloudShuffleService-fork/common/util"
	"github.com/GOptimistic/CloudShuffleService-fork/network/buffer"
)

var log logger.ILogger = &logger.ColorLogger{
	Prefix: "TransportClient ",
	Level:  logger.LOG_LEVEL_INFO,
	Color:  true,
}

// TransportClient one pooled connection to a worker, carrying the
// chunk-stream commands. Requests are strictly request/response; the
// mutex serializes callers sharing a pooled client.
type TransportClient struct {
	id      string
	addr    string
	conn    net.Conn
	w       *resp.RequestWriter
	r       resp.ResponseReader
	timeout time.Duration

	mu     sync.Mutex
	closed uint32
}

func NewTransportClient(cn net.Conn, addr string, timeout time.Duration) *TransportClient {
	return &TransportClient{
		id:      uuid.New().String(),
		addr:    addr,
		conn:    cn,
		w:       resp.NewRequestWriter(cn),
		r:       resp.NewResponseReader(cn),
		timeout: timeout,
	}
}

func (c *TransportClient) Id() string {
	return c.id
}

func (c *TransportClient) Addr() string {
	return c.addr
}

// OpenStream registers a chunk stream over (shuffleKey, filePath) on
// the worker, starting at initChunkIndex.
func (c *TransportClient) OpenStream(shuffleKey string, filePath string, initChunkIndex int) (*protocol.StreamHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return nil, &OpenStreamError{shuffleKey, filePath, ErrClientClosed}
	}

	c.w.WriteCmdString(protocol.CMD_OPEN_STREAM, shuffleKey, filePath, strconv.Itoa(initChunkIndex), c.id)
	if err := c.flush(); err != nil {
		return nil, &OpenStreamError{shuffleKey, filePath, err}
	}

	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	t, err := c.r.PeekType()
	if err != nil {
		return nil, &OpenStreamError{shuffleKey, filePath, c.bail(err)}
	}

	switch t {
	case resp.TypeError:
		strErr, err := c.r.ReadError()
		if err != nil {
			return nil, &OpenStreamError{shuffleKey, filePath, c.bail(err)}
		}
		return nil, &OpenStreamError{shuffleKey, filePath, errors.New(strErr)}
	case resp.TypeInt:
		streamId, err := c.r.ReadInt()
		if err != nil {
			return nil, &OpenStreamError{shuffleKey, filePath, c.bail(err)}
		}
		numChunks, err := c.r.ReadInt()
		if err != nil {
			return nil, &OpenStreamError{shuffleKey, filePath, c.bail(err)}
		}
		log.Debug("Opened stream %d over %s/%s at chunk %d", streamId, shuffleKey, filePath, initChunkIndex)
		return &protocol.StreamHandle{StreamId: streamId, NumChunks: int(numChunks)}, nil
	default:
		c.Close()
		return nil, &OpenStreamError{shuffleKey, filePath, ErrUnexpectedResponse}
	}
}

// FetchChunk pulls the chunk at chunkIndex, which must match the
// worker-side cursor of the stream.
func (c *TransportClient) FetchChunk(handle *protocol.StreamHandle, chunkIndex int) (buffer.ManagedBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return nil, &ChunkFetchError{handle.StreamId, chunkIndex, ErrClientClosed}
	}

	c.w.WriteCmdString(protocol.CMD_FETCH_CHUNK,
		strconv.FormatInt(handle.StreamId, 10), strconv.Itoa(chunkIndex))
	if err := c.flush(); err != nil {
		return nil, &ChunkFetchError{handle.StreamId, chunkIndex, err}
	}

	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	t, err := c.r.PeekType()
	if err != nil {
		return nil, &ChunkFetchError{handle.StreamId, chunkIndex, c.bail(err)}
	}

	switch t {
	case resp.TypeError:
		strErr, err := c.r.ReadError()
		if err != nil {
			return nil, &ChunkFetchError{handle.StreamId, chunkIndex, c.bail(err)}
		}
		return nil, &ChunkFetchError{handle.StreamId, chunkIndex, errors.New(strErr)}
	case resp.TypeBulk:
		chunk, err := c.r.StreamBulk()
		if err != nil {
			return nil, &ChunkFetchError{handle.StreamId, chunkIndex, c.bail(err)}
		}
		data, err := chunk.ReadAll()
		if err != nil {
			return nil, &ChunkFetchError{handle.StreamId, chunkIndex, c.bail(err)}
		}
		return buffer.NewBytesBuffer(data), nil
	default:
		c.Close()
		return nil, &ChunkFetchError{handle.StreamId, chunkIndex, ErrUnexpectedResponse}
	}
}

// CloseStream releases the worker-side stream state. Best effort: it
// swallows every error and poisons the connection instead of leaving
// an unread reply behind.
func (c *TransportClient) CloseStream(handle *protocol.StreamHandle) {
	if handle == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return
	}

	c.w.WriteCmdString(protocol.CMD_CLOSE_STREAM, strconv.FormatInt(handle.StreamId, 10))
	if err := c.flush(); err != nil {
		return
	}

	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	if _, err := c.r.ReadInt(); err != nil {
		c.bail(err)
		// The ack is advisory. A desynchronized reply still kills the
		// connection below.
		if !util.IsConnectionFailed(err) {
			c.Close()
		}
	}
}

// Close closes the underlying connection, unblocking any in-flight
// read. Idempotent and safe to call concurrently with requests.
func (c *TransportClient) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return ErrClientClosed
	}
	log.Debug("Closing connection to %s", c.addr)
	return c.conn.Close()
}

func (c *TransportClient) IsClosed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *TransportClient) flush() error {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetWriteDeadline(time.Time{})

	if err := c.w.Flush(); err != nil {
		return c.bail(err)
	}
	return nil
}

// bail closes the client on connection-level failures so the factory
// redials the slot, and passes the error through either way.
func (c *TransportClient) bail(err error) error {
	if util.IsConnectionFailed(err) {
		c.Close()
	}
	return err
}
