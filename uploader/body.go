package uploader

import (
	"fmt"
	"io"
)

// partReader is an io.ReadSeeker over the ordered chunk slices of a part
// body. The SDK rewinds the body when it signs or retries a request;
// seeking only repositions an offset, the chunk memory is never copied.
type partReader struct {
	body [][]byte
	size int64
	pos  int64
}

func newPartReader(body [][]byte) *partReader {
	var size int64
	for _, chunk := range body {
		size += int64(len(chunk))
	}
	return &partReader{body: body, size: size}
}

func (r *partReader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}

	total := 0
	skip := r.pos
	for _, chunk := range r.body {
		if skip >= int64(len(chunk)) {
			skip -= int64(len(chunk))
			continue
		}
		n := copy(p[total:], chunk[skip:])
		total += n
		skip = 0
		if total == len(p) {
			break
		}
	}

	r.pos += int64(total)
	return total, nil
}

func (r *partReader) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = r.pos + offset
	case io.SeekEnd:
		pos = r.size + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative position: %d", pos)
	}

	r.pos = pos
	return pos, nil
}
