package util

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// IsConnectionFailed reports whether err poisons the connection it
// occurred on. Timeouts count: a late reply would desynchronize the
// request/response pairing on the wire.
func IsConnectionFailed(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == io.ErrClosedPipe {
		return true
	} else if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout() || !netErr.Temporary()
	}

	return false
}

// LocalHostName returns the hostname workers advertise to the client.
func LocalHostName() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

// ParseSize parses sizes like "4096", "64k", "16m", "1g" into bytes.
func ParseSize(s string) (int64, error) {
	str := strings.ToLower(strings.TrimSpace(s))
	if str == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch str[len(str)-1] {
	case 'k':
		multiplier = 1 << 10
		str = str[:len(str)-1]
	case 'm':
		multiplier = 1 << 20
		str = str[:len(str)-1]
	case 'g':
		multiplier = 1 << 30
		str = str[:len(str)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSuffix(str, "b"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed size %q: %v", s, err)
	}
	return n * multiplier, nil
}
