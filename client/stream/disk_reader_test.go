package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/GOptimistic/CloudShuffleService-fork/client/compress"
	"github.com/GOptimistic/CloudShuffleService-fork/common/conf"
	"github.com/GOptimistic/CloudShuffleService-fork/common/protocol"
	transport "github.com/GOptimistic/CloudShuffleService-fork/network/client"
	"github.com/GOptimistic/CloudShuffleService-fork/network/server"
)

const (
	testHost      = "127.0.0.1"
	testPort      = 16789
	testBogusPort = 54321
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// testResolver the worker-side registry of committed files, keyed the
// way the worker keys them: shuffleKey-filePath.
type testResolver struct {
	mu    sync.Mutex
	files map[string]*server.FileInfo
}

func newTestResolver() *testResolver {
	return &testResolver{files: make(map[string]*server.FileInfo)}
}

func (r *testResolver) put(shuffleKey string, filePath string, fi *server.FileInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[shuffleKey+"-"+filePath] = fi
}

func (r *testResolver) Lookup(shuffleKey string, filePath string) (*server.FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fi, ok := r.files[shuffleKey+"-"+filePath]
	if !ok {
		return nil, fmt.Errorf("no committed file %s under %s", filePath, shuffleKey)
	}
	return fi, nil
}

// scriptedFaults the injectable fault policy: "fail the first K
// attempts at chunk I". A count of -1 fails forever. All calls are
// counted so the tests can assert the retry budget.
type scriptedFaults struct {
	mu         sync.Mutex
	openFails  map[string]int
	chunkFails map[string]int
	openCalls  map[string]int
	chunkCalls map[string]int
}

func newScriptedFaults() *scriptedFaults {
	return &scriptedFaults{
		openFails:  make(map[string]int),
		chunkFails: make(map[string]int),
		openCalls:  make(map[string]int),
		chunkCalls: make(map[string]int),
	}
}

func chunkKey(filePath string, chunkIndex int) string {
	return fmt.Sprintf("%s#%d", filePath, chunkIndex)
}

func (f *scriptedFaults) failChunkAt(filePath string, chunkIndex int, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkFails[chunkKey(filePath, chunkIndex)] = times
}

func (f *scriptedFaults) FailOpen(shuffleKey string, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls[filePath]++
	remaining := f.openFails[filePath]
	if remaining == 0 {
		return nil
	}
	if remaining > 0 {
		f.openFails[filePath] = remaining - 1
	}
	return errors.New("chunk offsets meta exception for test")
}

func (f *scriptedFaults) FailChunk(filePath string, chunkIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chunkKey(filePath, chunkIndex)
	f.chunkCalls[key]++
	remaining := f.chunkFails[key]
	if remaining == 0 {
		return nil
	}
	if remaining > 0 {
		f.chunkFails[key] = remaining - 1
	}
	return errors.New("chunk fetch failed for test")
}

func (f *scriptedFaults) opens(filePath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls[filePath]
}

func (f *scriptedFaults) fetches(filePath string, chunkIndex int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunkCalls[chunkKey(filePath, chunkIndex)]
}

// writeEpochFile writes numRecords length-prefixed records, one record
// per chunk, the way the shuffle writer lays partitions out.
func writeEpochFile(dir string, name string, rnd *rand.Rand, numRecords int) (*server.FileInfo, []string) {
	var data []byte
	offsets := []int64{0}
	records := make([]string, 0, numRecords)

	for j := 0; j < numRecords; j++ {
		content := make([]byte, 1024+rnd.Intn(1024))
		for i := range content {
			content[i] = alphanumeric[rnd.Intn(len(alphanumeric))]
		}
		records = append(records, string(content))

		record := make([]byte, 4+len(content))
		binary.LittleEndian.PutUint32(record, uint32(len(content)))
		copy(record[4:], content)
		data = append(data, record...)
		offsets = append(offsets, int64(len(data)))
	}

	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, data, 0644)).To(BeNil())
	fi, err := server.NewFileInfo(path, offsets, int64(len(data)))
	Expect(err).To(BeNil())
	return fi, records
}

func piece(port int, filePath string, fileLength int64) *protocol.CommittedPartitionInfo {
	return protocol.NewCommittedPartitionInfo(0, 0, testHost, port, protocol.Disk, filePath, fileLength)
}

// readRecords drains the reader, parsing one length-prefixed record per
// chunk. Returns everything read up to the first error.
func readRecords(reader EpochReader) ([]string, error) {
	var out []string
	for reader.HasNext() {
		chunk, err := reader.Next()
		if err != nil {
			return out, err
		}
		data, err := chunk.Bytes()
		if err != nil {
			return out, err
		}
		length := binary.LittleEndian.Uint32(data[:4])
		out = append(out, string(data[4:4+length]))
		chunk.Release()
	}
	return out, nil
}

var _ = Describe("RemoteDiskEpochReader", func() {
	var (
		cssConf  *conf.CssConf
		dir      string
		rnd      *rand.Rand
		resolver *testResolver
		faults   *scriptedFaults
		srv      *server.TransportServer
		factory  *transport.TransportClientFactory
	)

	BeforeEach(func() {
		cssConf = conf.New().
			Set("css.local.chunk.fetch.enabled", "false").
			Set("css.chunk.fetch.retry.wait.times", "5ms")

		var err error
		dir, err = os.MkdirTemp("", "epoch-reader")
		Expect(err).To(BeNil())
		rnd = rand.New(rand.NewSource(GinkgoRandomSeed()))

		resolver = newTestResolver()
		faults = newScriptedFaults()
		srv = server.NewTransportServer(resolver, server.WithFaultPolicy(faults))
		Expect(srv.ListenAndServe(fmt.Sprintf("%s:%d", testHost, testPort))).To(BeNil())

		factory = transport.NewTransportClientFactory(cssConf)
	})

	AfterEach(func() {
		factory.Close()
		srv.Close()
		os.RemoveAll(dir)
	})

	newReader := func(pieces ...*protocol.CommittedPartitionInfo) *RemoteDiskEpochReader {
		reader, err := NewRemoteDiskEpochReader(cssConf, factory, "DontTouchEpochFetchClient", pieces)
		Expect(err).To(BeNil())
		return reader
	}

	It("should drain a single healthy piece in order", func() {
		fi, records := writeEpochFile(dir, "EpochFetch-SHUFFLE-FILE-0", rnd, 100)
		resolver.put("DontTouchEpochFetchClient", "EpochFetch-SHUFFLE-FILE-0", fi)

		reader := newReader(piece(testPort, "EpochFetch-SHUFFLE-FILE-0", fi.FileLength))
		defer reader.Close()

		got, err := readRecords(reader)
		Expect(err).To(BeNil())
		Expect(got).To(Equal(records))
		Expect(reader.HasNext()).To(BeFalse())

		// No retries on the happy path.
		Expect(faults.opens("EpochFetch-SHUFFLE-FILE-0")).To(Equal(1))
		Expect(faults.fetches("EpochFetch-SHUFFLE-FILE-0", 10)).To(Equal(1))
	})

	It("should retry a failing chunk against the same piece", func() {
		fi, records := writeEpochFile(dir, "RetryChunkFetcher-SHUFFLE-FILE-0", rnd, 100)
		resolver.put("DontTouchEpochFetchClient", "RetryChunkFetcher-SHUFFLE-FILE-0", fi)
		faults.failChunkAt("RetryChunkFetcher-SHUFFLE-FILE-0", 10, 2)

		reader := newReader(piece(testPort, "RetryChunkFetcher-SHUFFLE-FILE-0", fi.FileLength))
		defer reader.Close()

		got, err := readRecords(reader)
		Expect(err).To(BeNil())
		Expect(got).To(Equal(records))

		// Initial open plus one reopen per failed attempt.
		Expect(faults.opens("RetryChunkFetcher-SHUFFLE-FILE-0")).To(Equal(3))
		Expect(faults.fetches("RetryChunkFetcher-SHUFFLE-FILE-0", 10)).To(Equal(3))
		// Earlier chunks are never refetched: reopens resume at chunk 10.
		Expect(faults.fetches("RetryChunkFetcher-SHUFFLE-FILE-0", 9)).To(Equal(1))
	})

	It("should fail over when the stream cannot be opened", func() {
		fi, records := writeEpochFile(dir, "EpochFetch-SHUFFLE-FILE-1", rnd, 100)
		resolver.put("DontTouchEpochFetchClient", "EpochFetch-SHUFFLE-FILE-1", fi)

		reader := newReader(
			piece(testBogusPort, "NeverMind", 100000),
			piece(testPort, "EpochFetch-SHUFFLE-FILE-1", fi.FileLength),
		)
		defer reader.Close()

		got, err := readRecords(reader)
		Expect(err).To(BeNil())
		Expect(got).To(Equal(records))
		Expect(faults.opens("EpochFetch-SHUFFLE-FILE-1")).To(Equal(1))
	})

	It("should fail over to the next piece after exhausting the retry budget", func() {
		master, _ := writeEpochFile(dir, "RetryChunkFetcher-SHUFFLE-FILE-1MASTER", rnd, 100)
		slave, records := writeEpochFile(dir, "RetryChunkFetcher-SHUFFLE-FILE-1SLAVE", rnd, 100)
		resolver.put("DontTouchEpochFetchClient", "RetryChunkFetcher-SHUFFLE-FILE-1MASTER", master)
		resolver.put("DontTouchEpochFetchClient", "RetryChunkFetcher-SHUFFLE-FILE-1SLAVE", slave)
		faults.failChunkAt("RetryChunkFetcher-SHUFFLE-FILE-1MASTER", 5, -1)

		reader := newReader(
			piece(testPort, "RetryChunkFetcher-SHUFFLE-FILE-1MASTER", master.FileLength),
			piece(testPort, "RetryChunkFetcher-SHUFFLE-FILE-1SLAVE", slave.FileLength),
		)
		defer reader.Close()

		got, err := readRecords(reader)
		Expect(err).To(BeNil())
		// The failover rescans the replacement piece from chunk 0, so
		// the master's prefix is delivered again from the slave.
		Expect(got[len(got)-100:]).To(Equal(records))

		Expect(faults.fetches("RetryChunkFetcher-SHUFFLE-FILE-1MASTER", 5)).To(Equal(3))
		Expect(faults.opens("RetryChunkFetcher-SHUFFLE-FILE-1MASTER")).To(Equal(3))
		Expect(faults.opens("RetryChunkFetcher-SHUFFLE-FILE-1SLAVE")).To(Equal(1))
	})

	It("should surface exhaustion once every piece has failed", func() {
		master, records := writeEpochFile(dir, "Exhaust-SHUFFLE-FILE-0MASTER", rnd, 20)
		slave, _ := writeEpochFile(dir, "Exhaust-SHUFFLE-FILE-0SLAVE", rnd, 20)
		resolver.put("DontTouchEpochFetchClient", "Exhaust-SHUFFLE-FILE-0MASTER", master)
		resolver.put("DontTouchEpochFetchClient", "Exhaust-SHUFFLE-FILE-0SLAVE", slave)
		faults.failChunkAt("Exhaust-SHUFFLE-FILE-0MASTER", 5, -1)
		faults.failChunkAt("Exhaust-SHUFFLE-FILE-0SLAVE", 5, -1)

		reader := newReader(
			piece(testPort, "Exhaust-SHUFFLE-FILE-0MASTER", master.FileLength),
			piece(testPort, "Exhaust-SHUFFLE-FILE-0SLAVE", slave.FileLength),
		)
		defer reader.Close()

		got, err := readRecords(reader)
		Expect(errors.Is(err, ErrEpochExhausted)).To(BeTrue())
		// A partial prefix of each piece was delivered before the error.
		Expect(got[:5]).To(Equal(records[:5]))
		Expect(len(got)).To(Equal(10))
		Expect(reader.HasNext()).To(BeFalse())

		_, err = reader.Next()
		Expect(errors.Is(err, ErrEpochExhausted)).To(BeTrue())
	})

	It("should be born exhausted without pieces", func() {
		reader := newReader()
		Expect(reader.HasNext()).To(BeFalse())
		_, err := reader.Next()
		Expect(errors.Is(err, ErrEpochExhausted)).To(BeTrue())
	})

	It("should fail fast on invalid arguments", func() {
		_, err := NewRemoteDiskEpochReader(cssConf, factory, "", nil)
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())

		_, err = NewRemoteDiskEpochReader(cssConf, nil, "shuffle", nil)
		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
	})

	It("should close idempotently and reject further reads", func() {
		fi, _ := writeEpochFile(dir, "EpochFetch-SHUFFLE-FILE-2", rnd, 10)
		resolver.put("DontTouchEpochFetchClient", "EpochFetch-SHUFFLE-FILE-2", fi)

		reader := newReader(piece(testPort, "EpochFetch-SHUFFLE-FILE-2", fi.FileLength))

		_, err := reader.Next()
		Expect(err).To(BeNil())

		Expect(reader.Close()).To(BeNil())
		Expect(reader.Close()).To(BeNil())
		Expect(reader.HasNext()).To(BeFalse())

		_, err = reader.Next()
		Expect(err).To(Equal(ErrReaderClosed))
	})

	It("should hand corrupted blocks to the caller as checksum failures", func() {
		// One framed block per chunk, with chunk 3's stored checksum
		// zeroed on disk. The transport delivers the chunk; the codec
		// is what rejects it. The reader does not decode, so it neither
		// retries nor fails over on the bad block and goes on to chunk 4.
		compressor := compress.NewLz4Compressor(cssConf)
		decompressor := compress.NewLz4Decompressor(cssConf)

		var data []byte
		offsets := []int64{0}
		for j := 0; j < 10; j++ {
			compressor.Compress([]byte(fmt.Sprintf("record-%d", j)))
			data = append(data, compressor.CompressedBuffer()[:compressor.CompressedTotalSize()]...)
			offsets = append(offsets, int64(len(data)))
		}
		// Zero the checksum field of the block in chunk 3.
		checksumOff := offsets[3] + compress.MagicLength + 9
		for i := int64(0); i < 4; i++ {
			data[checksumOff+i] = 0
		}

		path := filepath.Join(dir, "Corrupt-SHUFFLE-FILE-0")
		Expect(os.WriteFile(path, data, 0644)).To(BeNil())
		fi, err := server.NewFileInfo(path, offsets, int64(len(data)))
		Expect(err).To(BeNil())
		resolver.put("DontTouchEpochFetchClient", "Corrupt-SHUFFLE-FILE-0", fi)

		reader := newReader(piece(testPort, "Corrupt-SHUFFLE-FILE-0", fi.FileLength))
		defer reader.Close()

		for i := 0; i < 10; i++ {
			chunk, err := reader.Next()
			Expect(err).To(BeNil())
			raw, err := chunk.Bytes()
			Expect(err).To(BeNil())

			_, err = decompressor.Decompress(raw)
			if i == 3 {
				Expect(errors.Is(err, compress.ErrChecksumMismatch)).To(BeTrue())
			} else {
				Expect(err).To(BeNil())
			}
			chunk.Release()
		}
		Expect(reader.HasNext()).To(BeFalse())
	})
})
