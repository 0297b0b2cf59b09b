package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
	"github.com/GOptimistic/CloudShuffleService-fork/common/protocol"
	"github.com/GOptimistic/CloudShuffleService-fork/network/buffer"
	transport "github.com/GOptimistic/CloudShuffleService-fork/network/client"
)

// RemoteDiskEpochReader drains one piece of the epoch chunk by chunk,
// retrying failed fetches against the same piece and failing over to
// the next piece once the attempt budget is spent or a stream refuses
// to open. Failover restarts at chunk 0: pieces are independent
// replicas and may disagree on chunk boundaries, so a successful read
// always maps to one contiguous scan of one piece.
//
// The reader is driven by a single caller. Only Close may be called
// from another goroutine.
type RemoteDiskEpochReader struct {
	shuffleKey string
	pieces     []*protocol.CommittedPartitionInfo
	factory    *transport.TransportClientFactory

	retryMax  int
	retryWait time.Duration

	pieceIndex int
	chunkIndex int
	attempts   int // failed fetches against the current piece

	cmu    sync.Mutex // guards client/handle against concurrent Close
	client *transport.TransportClient
	handle *protocol.StreamHandle

	drainedBytes int64
	failures     []error
	drained      bool
	exhausted    bool
	closed       uint32
}

func NewRemoteDiskEpochReader(cssConf *conf.CssConf, factory *transport.TransportClientFactory,
	shuffleKey string, pieces []*protocol.CommittedPartitionInfo) (*RemoteDiskEpochReader, error) {
	if shuffleKey == "" {
		return nil, fmt.Errorf("%w: empty shuffle key", ErrInvalidArgument)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: nil client factory", ErrInvalidArgument)
	}
	for i, piece := range pieces {
		if piece == nil {
			return nil, fmt.Errorf("%w: nil piece %d", ErrInvalidArgument, i)
		}
	}
	if cssConf == nil {
		cssConf = conf.New()
	}

	reader := &RemoteDiskEpochReader{
		shuffleKey: shuffleKey,
		pieces:     pieces,
		factory:    factory,
		retryMax:   cssConf.ChunkFetchFailedRetryMaxTimes(),
		retryWait:  cssConf.ChunkFetchRetryWaitTimes(),
	}
	// Born exhausted: nothing to fail over to.
	reader.exhausted = len(pieces) == 0
	return reader, nil
}

func (r *RemoteDiskEpochReader) HasNext() bool {
	return !r.IsClosed() && !r.drained && !r.exhausted && r.pieceIndex < len(r.pieces)
}

func (r *RemoteDiskEpochReader) Next() (buffer.ManagedBuffer, error) {
	if r.IsClosed() {
		return nil, ErrReaderClosed
	}
	if r.drained {
		return nil, ErrNoMoreChunks
	}
	if r.exhausted {
		return nil, r.exhaustedError()
	}

	for {
		client, handle := r.currentStream()
		if client == nil {
			if err := r.openCurrentPiece(); err != nil {
				// Opens are not retried: the retry budget governs
				// chunk fetches only. The piece is dead.
				log.Warn("Failed to open piece %d of %s (%v): %v",
					r.pieceIndex, r.shuffleKey, r.pieces[r.pieceIndex], err)
				if failErr := r.failPiece(err); failErr != nil {
					return nil, failErr
				}
				continue
			}
			client, handle = r.currentStream()
			if client == nil {
				return nil, ErrReaderClosed
			}
			if r.chunkIndex >= handle.NumChunks {
				// Zero chunks past the cursor, the piece is trivially done.
				r.finishPiece()
				return nil, ErrNoMoreChunks
			}
		}

		start := time.Now()
		chunk, err := client.FetchChunk(handle, r.chunkIndex)
		if err == nil {
			nanoLog(logFetch, r.shuffleKey, r.pieceIndex, r.chunkIndex, int64(time.Since(start)))
			r.drainedBytes += chunk.Size()
			r.chunkIndex++
			if r.chunkIndex == handle.NumChunks {
				r.finishPiece()
			}
			return chunk, nil
		}

		if r.IsClosed() {
			return nil, ErrReaderClosed
		}

		r.attempts++
		log.Warn("Chunk %d of piece %d of %s failed (attempt %d/%d): %v",
			r.chunkIndex, r.pieceIndex, r.shuffleKey, r.attempts, r.retryMax, err)
		r.releaseStream()

		if r.attempts >= r.retryMax {
			if failErr := r.failPiece(err); failErr != nil {
				return nil, failErr
			}
			continue
		}

		time.Sleep(r.retryWait)
		if r.IsClosed() {
			return nil, ErrReaderClosed
		}

		// Resume the same piece with a fresh stream at the failed chunk.
		if err := r.openCurrentPiece(); err != nil {
			log.Warn("Failed to reopen piece %d of %s at chunk %d: %v",
				r.pieceIndex, r.shuffleKey, r.chunkIndex, err)
			if failErr := r.failPiece(err); failErr != nil {
				return nil, failErr
			}
			continue
		}
	}
}

// Close interrupts any in-flight fetch and renders the reader inert.
// The pooled connection is sacrificed; the factory redials its slot on
// next use.
func (r *RemoteDiskEpochReader) Close() error {
	if !atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		return nil
	}

	r.cmu.Lock()
	client := r.client
	r.client, r.handle = nil, nil
	r.cmu.Unlock()

	if client != nil {
		client.Close()
	}
	log.Debug("Closed reader of %s at piece %d", r.shuffleKey, r.pieceIndex)
	return nil
}

func (r *RemoteDiskEpochReader) IsClosed() bool {
	return atomic.LoadUint32(&r.closed) == 1
}

func (r *RemoteDiskEpochReader) openCurrentPiece() error {
	piece := r.pieces[r.pieceIndex]
	client, err := r.factory.CreateClient(piece.Host, piece.Port, r.shuffleKey+"-"+piece.FilePath)
	if err != nil {
		return &transport.OpenStreamError{ShuffleKey: r.shuffleKey, FilePath: piece.FilePath, Cause: err}
	}

	handle, err := client.OpenStream(r.shuffleKey, piece.FilePath, r.chunkIndex)
	if err != nil {
		return err
	}

	r.cmu.Lock()
	r.client, r.handle = client, handle
	r.cmu.Unlock()

	if r.IsClosed() {
		// Lost the race against Close.
		r.releaseStream()
		return ErrReaderClosed
	}
	return nil
}

// failPiece abandons the current piece and lines up the next one from
// chunk 0. Returns the terminal error once no piece remains.
func (r *RemoteDiskEpochReader) failPiece(cause error) error {
	r.failures = append(r.failures,
		fmt.Errorf("piece %d (%v): %v", r.pieceIndex, r.pieces[r.pieceIndex], cause))
	r.releaseStream()

	r.pieceIndex++
	r.chunkIndex = 0
	r.attempts = 0
	nanoLog(logFailover, r.shuffleKey, r.pieceIndex, len(r.failures))

	if r.pieceIndex >= len(r.pieces) {
		r.exhausted = true
		return r.exhaustedError()
	}
	log.Info("Failing over to piece %d of %s", r.pieceIndex, r.shuffleKey)
	return nil
}

func (r *RemoteDiskEpochReader) finishPiece() {
	r.drained = true
	log.Info("Drained piece %d of %s: %s in %d chunks",
		r.pieceIndex, r.shuffleKey, humanize.Bytes(uint64(r.drainedBytes)), r.chunkIndex)
	r.releaseStream()
}

// releaseStream closes the worker-side stream and detaches from the
// pooled client without closing its connection.
func (r *RemoteDiskEpochReader) releaseStream() {
	r.cmu.Lock()
	client, handle := r.client, r.handle
	r.client, r.handle = nil, nil
	r.cmu.Unlock()

	if client != nil {
		client.CloseStream(handle)
	}
}

func (r *RemoteDiskEpochReader) currentStream() (*transport.TransportClient, *protocol.StreamHandle) {
	r.cmu.Lock()
	defer r.cmu.Unlock()
	return r.client, r.handle
}

func (r *RemoteDiskEpochReader) exhaustedError() error {
	if len(r.failures) == 0 {
		return fmt.Errorf("%w: no pieces for %s", ErrEpochExhausted, r.shuffleKey)
	}
	return fmt.Errorf("%w: all %d pieces of %s failed, last: %v",
		ErrEpochExhausted, len(r.failures), r.shuffleKey, r.failures[len(r.failures)-1])
}
