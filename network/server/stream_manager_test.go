package server

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func writeSegmentedFile(dir string, name string, segments ...[]byte) (*FileInfo, error) {
	path := filepath.Join(dir, name)
	offsets := make([]int64, 0, len(segments)+1)
	offsets = append(offsets, 0)

	var data []byte
	for _, segment := range segments {
		data = append(data, segment...)
		offsets = append(offsets, int64(len(data)))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}
	return NewFileInfo(path, offsets, int64(len(data)))
}

var _ = Describe("FileInfo", func() {
	It("should validate chunk offsets against file length", func() {
		_, err := NewFileInfo("f", []int64{0, 10, 30}, 30)
		Expect(err).To(BeNil())

		_, err = NewFileInfo("f", []int64{0, 10, 20}, 30)
		Expect(err).NotTo(BeNil())

		_, err = NewFileInfo("f", []int64{5, 10, 30}, 30)
		Expect(err).NotTo(BeNil())

		_, err = NewFileInfo("f", []int64{0, 20, 10, 30}, 30)
		Expect(err).NotTo(BeNil())

		_, err = NewFileInfo("f", nil, 0)
		Expect(err).NotTo(BeNil())
	})

	It("should translate chunk indexes to segments", func() {
		fi, err := NewFileInfo("f", []int64{0, 10, 10, 30}, 30)
		Expect(err).To(BeNil())
		Expect(fi.NumChunks()).To(Equal(3))

		offset, length, err := fi.Segment(0)
		Expect(err).To(BeNil())
		Expect(offset).To(Equal(int64(0)))
		Expect(length).To(Equal(int64(10)))

		// Empty chunk is legal: adjacent equal offsets.
		_, length, err = fi.Segment(1)
		Expect(err).To(BeNil())
		Expect(length).To(Equal(int64(0)))

		_, _, err = fi.Segment(3)
		Expect(err).NotTo(BeNil())
		_, _, err = fi.Segment(-1)
		Expect(err).NotTo(BeNil())
	})
})

var _ = Describe("StreamManager", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "stream-manager")
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("should serve chunks in cursor order only", func() {
		fi, err := writeSegmentedFile(dir, "part", []byte("aaaa"), []byte("bb"), []byte("cccccc"))
		Expect(err).To(BeNil())

		m := NewStreamManager()
		stream := m.Register("client-1", "app-0", "part", fi, 0)

		// Skipping ahead violates the protocol.
		_, err = m.Fetch(stream.Id, 1)
		Expect(err).NotTo(BeNil())

		for i, expected := range []string{"aaaa", "bb", "cccccc"} {
			segment, err := m.Fetch(stream.Id, i)
			Expect(err).To(BeNil())
			data, err := segment.Bytes()
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal(expected))
			segment.Release()

			// Rewinding violates the protocol too.
			_, err = m.Fetch(stream.Id, i)
			Expect(err).NotTo(BeNil())
		}
	})

	It("should resume from the declared init chunk index", func() {
		fi, err := writeSegmentedFile(dir, "part", []byte("aaaa"), []byte("bb"), []byte("cccccc"))
		Expect(err).To(BeNil())

		m := NewStreamManager()
		stream := m.Register("client-1", "app-0", "part", fi, 2)

		segment, err := m.Fetch(stream.Id, 2)
		Expect(err).To(BeNil())
		data, err := segment.Bytes()
		Expect(err).To(BeNil())
		Expect(string(data)).To(Equal("cccccc"))
		segment.Release()
	})

	It("should release idempotently and by client", func() {
		fi, err := writeSegmentedFile(dir, "part", []byte("aaaa"))
		Expect(err).To(BeNil())

		m := NewStreamManager()
		s1 := m.Register("client-1", "app-0", "part", fi, 0)
		m.Register("client-1", "app-0", "part", fi, 0)
		m.Register("client-2", "app-0", "part", fi, 0)
		Expect(m.Count()).To(Equal(3))

		m.Release(s1.Id)
		m.Release(s1.Id)
		Expect(m.Count()).To(Equal(2))

		_, err = m.Fetch(s1.Id, 0)
		Expect(err).NotTo(BeNil())

		Expect(m.ReleaseClient("client-1")).To(Equal(1))
		Expect(m.ReleaseClient("client-1")).To(Equal(0))
		Expect(m.Count()).To(Equal(1))
	})
})
