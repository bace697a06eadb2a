package splitter

import "io"

type bytesSource struct {
	chunks [][]byte
}

// NewBytesSource returns a Source yielding the given chunks in order.
func NewBytesSource(chunks ...[]byte) Source {
	return &bytesSource{chunks: chunks}
}

func (s *bytesSource) Next() ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

const defaultChunkSize = 1024 * 1024

type readerSource struct {
	reader    io.Reader
	chunkSize int
	err       error
}

// NewReaderSource adapts a reader to a Source, reading chunks of up to
// chunkSize bytes (a default of 1 MiB when chunkSize <= 0). Every chunk is
// freshly allocated because emitted parts keep referencing chunk memory.
func NewReaderSource(reader io.Reader, chunkSize int) Source {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &readerSource{reader: reader, chunkSize: chunkSize}
}

func (s *readerSource) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.reader.Read(buf)
		if err != nil {
			// Readers are not required to repeat an error, so remember it
			// for the call after the data is handed out.
			s.err = err
		}
		if n > 0 {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}
