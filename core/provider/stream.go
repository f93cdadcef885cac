package provider

import "io"

// Stream is a lazy finite sequence of text chunks. Recv returns io.EOF
// once the sequence is drained. Close releases underlying resources and
// is safe to call more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// StreamFunc adapts a plain pull function into a Stream with a no-op
// Close.
type StreamFunc func() (string, error)

func (f StreamFunc) Recv() (string, error) { return f() }

func (f StreamFunc) Close() error { return nil }

type sliceStream struct {
	chunks []string
	pos    int
}

// NewSliceStream yields the given chunks in order, then io.EOF. Intended
// for deterministic providers in tests and local development.
func NewSliceStream(chunks ...string) Stream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() error { return nil }
