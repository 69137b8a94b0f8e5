package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// InMemoryStream is a MessageTransport for tests and single-process runs
// where the telemetry publisher lives in the same binary.
type InMemoryStream struct {
	mu      sync.Mutex
	streams map[string]*memStream
	closed  bool
}

type memStream struct {
	entries []memEntry
	notify  chan struct{}
}

type memEntry struct {
	seq  int64
	data []byte
}

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{streams: make(map[string]*memStream)}
}

func (s *InMemoryStream) stream(name string) *memStream {
	st, ok := s.streams[name]
	if !ok {
		st = &memStream{notify: make(chan struct{})}
		s.streams[name] = st
	}
	return st
}

func (s *InMemoryStream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	st := s.stream(stream)
	seq := int64(len(st.entries) + 1)
	st.entries = append(st.entries, memEntry{seq: seq, data: data})

	// Wake all pending readers.
	close(st.notify)
	st.notify = make(chan struct{})

	return strconv.FormatInt(seq, 10), nil
}

func (s *InMemoryStream) ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error) {
	var last int64
	var err error
	switch lastID {
	case "", "$":
		s.mu.Lock()
		last = int64(len(s.stream(stream).entries))
		s.mu.Unlock()
	case "0":
		last = 0
	default:
		last, err = strconv.ParseInt(lastID, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid stream offset %q", lastID)
		}
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", ErrClosed
		}
		st := s.stream(stream)
		for _, e := range st.entries {
			if e.seq > last {
				s.mu.Unlock()
				if err := json.Unmarshal(e.data, v); err != nil {
					return "", fmt.Errorf("unmarshal message %d: %w", e.seq, err)
				}
				return strconv.FormatInt(e.seq, 10), nil
			}
		}
		notify := st.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-notify:
		}
	}
}

func (s *InMemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		for _, st := range s.streams {
			close(st.notify)
			st.notify = make(chan struct{})
		}
	}
	return nil
}
