package common

import (
	"errors"
	"io"
)

// ChunkReader splits a stream into blocks of at most size bytes. Every block
// is full except possibly the last one.
type ChunkReader struct {
	r    io.Reader
	size int
	done bool
}

func NewChunkReader(r io.Reader, size int) *ChunkReader {
	if size <= 0 {
		size = ChunkSize
	}
	return &ChunkReader{r: r, size: size}
}

// Next returns the next block, or io.EOF once the stream is exhausted.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}

	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return buf[:n], nil
	case err != nil:
		return nil, err
	}
	return buf, nil
}
