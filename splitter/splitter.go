// Package splitter turns an arbitrary-boundary byte stream into
// size-bounded, checksummed parts for a multipart upload. Splitting is
// zero-copy: part bodies alias the memory of the source chunks.
package splitter

import (
	"crypto/md5"
	"fmt"
	"hash"
	"io"
)

// Source produces the consecutive chunks of an object's byte stream.
type Source interface {
	// Next returns the next chunk, or io.EOF after the final one.
	// Ownership of the returned slice passes to the splitter: part bodies
	// alias chunk memory, so the source must not reuse a returned buffer.
	Next() ([]byte, error)
}

// Part is one size-bounded piece of the stream, uploaded as a single unit.
type Part struct {
	// Body holds the part's bytes as ordered sub-slices of the source
	// chunks. Concatenated, the bodies of all emitted parts reproduce the
	// source byte stream exactly.
	Body          [][]byte
	ContentLength int64
	// ContentMD5 is the MD5 sum of exactly this part's bytes, in order.
	ContentMD5 [md5.Size]byte
	// PartNumber starts at 1 and increments by one per emitted part.
	PartNumber int32
}

// Splitter consumes a Source and emits parts whose length is within
// [minSize, maxSize], except for the final part which may be shorter.
// It is lazy and non-restartable: parts are produced one Next call at a
// time, and a source error ends the sequence for good.
type Splitter struct {
	source  Source
	minSize int64
	maxSize int64

	// remaining is the tail of the most recent chunk that has not been
	// folded into the accumulation buffer yet.
	remaining  []byte
	body       [][]byte
	length     int64
	digest     hash.Hash
	partNumber int32
	done       bool
}

// New creates a Splitter emitting parts of minSize to maxSize bytes.
func New(source Source, minSize, maxSize int64) (*Splitter, error) {
	if minSize <= 0 {
		return nil, fmt.Errorf("minimum part size must be positive, got %d", minSize)
	}
	if maxSize < minSize {
		return nil, fmt.Errorf("maximum part size %d is smaller than minimum part size %d", maxSize, minSize)
	}

	return &Splitter{
		source:  source,
		minSize: minSize,
		maxSize: maxSize,
		digest:  md5.New(),
	}, nil
}

// Next returns the next part, or io.EOF once the source is exhausted and
// every buffered byte has been emitted. A zero-length trailing part is
// never emitted. On a source error the unfinished buffer is discarded and
// the error is returned; all later calls return io.EOF.
func (s *Splitter) Next() (*Part, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		// One oversized chunk can complete several parts in a row, so pop
		// until the buffer drops below the minimum before pulling again.
		if part := s.pop(); part != nil {
			return part, nil
		}

		chunk, err := s.source.Next()
		if err == io.EOF {
			s.done = true
			if part := s.finish(); part != nil {
				return part, nil
			}
			return nil, io.EOF
		}
		if err != nil {
			s.done = true
			return nil, err
		}
		s.push(chunk)
	}
}

// push holds back the new chunk and folds the previously held one into the
// accumulation buffer. Keeping the latest chunk out of the buffer lets pop
// slice it at an arbitrary offset when a part boundary falls inside it.
func (s *Splitter) push(chunk []byte) {
	s.fold(s.remaining)
	s.remaining = chunk
}

func (s *Splitter) fold(b []byte) {
	if len(b) == 0 {
		return
	}
	s.length += int64(len(b))
	s.digest.Write(b)
	s.body = append(s.body, b)
}

// pop emits a part if the buffered bytes plus the held-back chunk reach
// the minimum part size, taking at most maxSize bytes in total.
func (s *Splitter) pop() *Part {
	if s.length+int64(len(s.remaining)) < s.minSize {
		return nil
	}

	n := s.maxSize - s.length
	if n > int64(len(s.remaining)) {
		n = int64(len(s.remaining))
	}
	s.fold(s.remaining[:n])
	s.remaining = s.remaining[n:]

	return s.emit()
}

// finish folds whatever is still held back and emits the final part. The
// final part may be shorter than minSize but never empty.
func (s *Splitter) finish() *Part {
	s.fold(s.remaining)
	s.remaining = nil
	if len(s.body) == 0 {
		return nil
	}
	return s.emit()
}

func (s *Splitter) emit() *Part {
	s.partNumber++
	part := &Part{
		Body:          s.body,
		ContentLength: s.length,
		PartNumber:    s.partNumber,
	}
	s.digest.Sum(part.ContentMD5[:0])
	s.digest.Reset()
	s.body = nil
	s.length = 0
	return part
}
