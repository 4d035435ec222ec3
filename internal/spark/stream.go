package spark

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("spark: stream closed")

var errNoTerminal = newError(KindConnection, "session ended before terminal frame", nil)

// collect blocks until the session finishes and returns every fragment
// concatenated in arrival order. Any error discards the partial answer.
func collect(ctx context.Context, results <-chan result) (string, *Usage, error) {
	var (
		sb       strings.Builder
		usage    *Usage
		terminal bool
	)
	for r := range results {
		if r.err != nil {
			return "", nil, r.err
		}
		sb.WriteString(r.frame.Text)
		if r.frame.Terminal {
			terminal = true
			usage = r.frame.Usage
		}
	}
	if !terminal {
		if ctx.Err() != nil {
			return "", nil, canceled(ctx)
		}
		return "", nil, errNoTerminal
	}
	return sb.String(), usage, nil
}

// Stream yields answer chunks as frames arrive. Recv returns io.EOF after the
// terminal frame; any other error is the last value of the sequence. A Stream
// is single-use. Recv must not be called concurrently with itself, but Close
// may be called from another goroutine at any time.
type Stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	results <-chan result

	terminal bool
	usage    *Usage

	mu   sync.Mutex
	err  error
	span trace.Span
}

func newStream(ctx context.Context, cancel context.CancelFunc, results <-chan result, span trace.Span) *Stream {
	return &Stream{ctx: ctx, cancel: cancel, results: results, span: span}
}

// Recv returns the next non-empty chunk.
func (s *Stream) Recv() (string, error) {
	if err := s.failure(); err != nil {
		return "", err
	}
	for {
		r, ok := <-s.results
		if !ok {
			switch {
			case s.terminal:
				return "", s.finish(io.EOF)
			case s.ctx.Err() != nil:
				return "", s.finish(canceled(s.ctx))
			default:
				return "", s.finish(errNoTerminal)
			}
		}
		if r.err != nil {
			return "", s.finish(r.err)
		}
		if r.frame.Terminal {
			s.terminal = true
			s.usage = r.frame.Usage
		}
		if r.frame.Text != "" {
			return r.frame.Text, nil
		}
	}
}

// Usage returns token accounting once the terminal frame has been received.
func (s *Stream) Usage() *Usage { return s.usage }

// Close cancels the request if it is still running and waits for the session
// to release its connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.finish(ErrStreamClosed)
	for range s.results {
	}
	return nil
}

func (s *Stream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// finish records the first terminal outcome and returns it.
func (s *Stream) finish(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.err = err
	s.cancel()
	if err != io.EOF && err != ErrStreamClosed {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
	return s.err
}
