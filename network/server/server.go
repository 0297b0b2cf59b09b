package server

import (
	"bytes"
	"net"

	"github.com/mason-leap-lab/redeo"
	"github.com/mason-leap-lab/redeo/resp"

	"github.com/GOptimistic/CloudShuffleService-fork/common/logger"
	"github.com/GOptimistic/CloudShuffleService-fork/common/protocol"
)

// FaultPolicy injects failures into the serving path. Production
// servers run without one; the retry suites use it to script chunk and
// open failures instead of sharing mutable counters with the server.
type FaultPolicy interface {
	// FailOpen returns a non-nil error to fail this OpenStream.
	FailOpen(shuffleKey string, filePath string) error

	// FailChunk returns a non-nil error to fail this chunk fetch.
	FailChunk(filePath string, chunkIndex int) error
}

// TransportServer serves the chunk-stream protocol over RESP framing.
type TransportServer struct {
	resolver Resolver
	streams  *StreamManager
	faults   FaultPolicy
	srv      *redeo.Server
	lis      net.Listener
	log      logger.ILogger
}

func NewTransportServer(resolver Resolver, options ...func(*TransportServer)) *TransportServer {
	s := &TransportServer{
		resolver: resolver,
		streams:  NewStreamManager(),
		srv:      redeo.NewServer(nil),
		log: &logger.ColorLogger{
			Prefix: "TransportServer ",
			Level:  logger.LOG_LEVEL_INFO,
			Color:  true,
		},
	}
	for _, option := range options {
		option(s)
	}

	s.srv.HandleFunc(protocol.CMD_OPEN_STREAM, s.handleOpenStream)
	s.srv.HandleFunc(protocol.CMD_FETCH_CHUNK, s.handleFetchChunk)
	s.srv.HandleFunc(protocol.CMD_CLOSE_STREAM, s.handleCloseStream)
	return s
}

// WithFaultPolicy installs a scripted fault injector.
func WithFaultPolicy(faults FaultPolicy) func(*TransportServer) {
	return func(s *TransportServer) {
		s.faults = faults
	}
}

// WithLogger overrides the server logger.
func WithLogger(log logger.ILogger) func(*TransportServer) {
	return func(s *TransportServer) {
		s.log = log
	}
}

// Streams exposes the stream registry, mainly to the worker's
// lifecycle management and the tests.
func (s *TransportServer) Streams() *StreamManager {
	return s.streams
}

// ListenAndServe binds addr and serves in the background until Close.
func (s *TransportServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = lis
	s.log.Info("Listening on %s", lis.Addr())
	go s.srv.Serve(lis)
	return nil
}

func (s *TransportServer) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

func (s *TransportServer) Close() {
	if s.lis != nil {
		s.lis.Close()
	}
}

func (s *TransportServer) handleOpenStream(w resp.ResponseWriter, c *resp.Command) {
	shuffleKey := c.Arg(0).String()
	filePath := c.Arg(1).String()
	initChunkIndex64, err := c.Arg(2).Int()
	if err != nil {
		w.AppendErrorf("malformed init chunk index: %v", err)
		w.Flush()
		return
	}
	initChunkIndex := int(initChunkIndex64)
	clientId := c.Arg(3).String()

	if s.faults != nil {
		if err := s.faults.FailOpen(shuffleKey, filePath); err != nil {
			w.AppendErrorf("%v", err)
			w.Flush()
			return
		}
	}

	fi, err := s.resolver.Lookup(shuffleKey, filePath)
	if err != nil {
		s.log.Warn("Failed to open %s/%s: %v", shuffleKey, filePath, err)
		w.AppendErrorf("chunk offsets meta exception: %v", err)
		w.Flush()
		return
	}
	if initChunkIndex < 0 || initChunkIndex > fi.NumChunks() {
		w.AppendErrorf("init chunk index %d out of range [0, %d]", initChunkIndex, fi.NumChunks())
		w.Flush()
		return
	}

	stream := s.streams.Register(clientId, shuffleKey, filePath, fi, initChunkIndex)
	s.log.Debug("Registered %v over %s/%s at chunk %d for client %s",
		stream.Id, shuffleKey, filePath, initChunkIndex, clientId)

	w.AppendInt(stream.Id)
	w.AppendInt(int64(fi.NumChunks()))
	w.Flush()
}

func (s *TransportServer) handleFetchChunk(w resp.ResponseWriter, c *resp.Command) {
	streamId, err := c.Arg(0).Int()
	if err != nil {
		w.AppendErrorf("malformed stream id: %v", err)
		w.Flush()
		return
	}
	chunkIndex64, err := c.Arg(1).Int()
	if err != nil {
		w.AppendErrorf("malformed chunk index: %v", err)
		w.Flush()
		return
	}
	chunkIndex := int(chunkIndex64)

	if s.faults != nil {
		if loaded, ok := s.streams.streams.Get(streamKey(streamId)); ok {
			if err := s.faults.FailChunk(loaded.(*ChunkStream).FilePath, chunkIndex); err != nil {
				w.AppendErrorf("%v", err)
				w.Flush()
				return
			}
		}
	}

	segment, err := s.streams.Fetch(streamId, chunkIndex)
	if err != nil {
		s.log.Warn("Failed to fetch chunk %d on stream %d: %v", chunkIndex, streamId, err)
		w.AppendErrorf("%v", err)
		w.Flush()
		return
	}
	defer segment.Release()

	data, err := segment.Bytes()
	if err != nil {
		s.log.Warn("Failed to read chunk %d on stream %d: %v", chunkIndex, streamId, err)
		w.AppendErrorf("%v", err)
		w.Flush()
		return
	}

	if err := w.CopyBulk(bytes.NewReader(data), int64(len(data))); err != nil {
		s.log.Warn("Error on sending chunk %d of stream %d: %v", chunkIndex, streamId, err)
		return
	}
	w.Flush()
}

func (s *TransportServer) handleCloseStream(w resp.ResponseWriter, c *resp.Command) {
	streamId, err := c.Arg(0).Int()
	if err != nil {
		w.AppendErrorf("malformed stream id: %v", err)
		w.Flush()
		return
	}

	s.streams.Release(streamId)
	w.AppendInt(1)
	w.Flush()
}
