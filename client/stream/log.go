package stream

import (
	"fmt"
	"os"

	"github.com/ScottMansfield/nanolog"
)

var (
	logFetch    nanolog.Handle
	logFailover nanolog.Handle
	nlogger     func(nanolog.Handle, ...interface{}) error
)

func init() {
	// shuffleKey, pieceIndex, chunkIndex, fetch latency (ns)
	logFetch = nanolog.AddLogger("%s fetched piece %i chunk %i in %i64 ns")
	// shuffleKey, next piece, pieces failed so far
	logFailover = nanolog.AddLogger("%s failover to piece %i after %i failures")
}

// CreateLog Enables evaluation logging of fetch latencies and failover
// events to a nanolog file.
func CreateLog(opts map[string]interface{}) {
	path := opts["file"].(string) + "_fetch.clog"
	nanoLogout, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	if err := nanolog.SetWriter(nanoLogout); err != nil {
		panic(err)
	}
	SetLogger(nanolog.Log)
}

// FlushLog Flushes buffered evaluation records to the file.
func FlushLog() {
	if err := nanolog.Flush(); err != nil {
		fmt.Println("log flush err")
	}
}

// SetLogger set customized evaluation logger
func SetLogger(l func(nanolog.Handle, ...interface{}) error) {
	nlogger = l
}

func nanoLog(handle nanolog.Handle, args ...interface{}) error {
	if nlogger != nil {
		return nlogger(handle, args...)
	}
	return nil
}
