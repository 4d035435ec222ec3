package spark

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// State is a session's position in its lifecycle. A session only moves forward;
// Closed and Error are absorbing.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateStreaming
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}

func (s State) final() bool { return s == StateClosed || s == StateError }

type eventKind int

const (
	evDialed eventKind = iota
	evDialFailed
	evSent
	evSendFailed
	evFrame
	evFailed
	evCanceled
)

type event struct {
	kind  eventKind
	frame Frame
	err   error
}

// action is what a transition asks the run loop to do.
type action struct {
	send  bool
	emit  *Frame
	err   error
	close bool
}

// transition is the whole protocol: given the current state and an event it
// returns the next state and the side effects to perform. It touches nothing.
func transition(s State, ev event) (State, action) {
	if s.final() {
		return s, action{}
	}
	if ev.kind == evCanceled {
		return StateClosed, action{err: ev.err, close: s != StateConnecting}
	}
	switch s {
	case StateConnecting:
		switch ev.kind {
		case evDialed:
			return StateOpen, action{send: true}
		case evDialFailed:
			return StateError, action{err: ev.err}
		}
	case StateOpen:
		switch ev.kind {
		case evSent:
			return StateStreaming, action{}
		case evSendFailed:
			return StateError, action{err: ev.err, close: true}
		}
	case StateStreaming:
		switch ev.kind {
		case evFrame:
			f := ev.frame
			if f.Terminal {
				return StateClosed, action{emit: &f, close: true}
			}
			return StateStreaming, action{emit: &f}
		case evFailed:
			return StateError, action{err: ev.err, close: true}
		}
	}
	return StateError, action{
		err:   newError(KindProtocol, "unexpected event in state "+s.String(), nil),
		close: s != StateConnecting,
	}
}

// result is what a session hands to its consumer: a frame or a final error.
type result struct {
	frame Frame
	err   error
}

// session drives one connection for one request. It is never reused.
type session struct {
	dialer      Dialer
	url         string
	payload     []byte
	uid         string
	openTimeout time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger

	state     State
	conn      Conn
	closeOnce sync.Once
}

// run executes the session to completion, sending results on out and closing
// it when the session reaches Closed or Error.
func (s *session) run(ctx context.Context, out chan<- result) {
	defer close(out)

	s.apply(ctx, s.dial(ctx), out)
	if s.conn != nil {
		stop := context.AfterFunc(ctx, s.closeConn)
		defer stop()
	}
	for !s.state.final() {
		var ev event
		switch s.state {
		case StateOpen:
			ev = s.send(ctx)
		case StateStreaming:
			ev = s.read(ctx)
		}
		s.apply(ctx, ev, out)
	}
	s.logger.Debug("spark session finished", slog.String("uid", s.uid), slog.String("state", s.state.String()))
}

func (s *session) apply(ctx context.Context, ev event, out chan<- result) {
	next, act := transition(s.state, ev)
	s.state = next
	if act.close {
		s.closeConn()
	}
	if act.emit != nil {
		s.deliver(ctx, out, result{frame: *act.emit})
	}
	if act.err != nil {
		s.deliver(ctx, out, result{err: act.err})
	}
}

func (s *session) deliver(ctx context.Context, out chan<- result, r result) {
	select {
	case out <- r:
	case <-ctx.Done():
	}
}

func (s *session) dial(ctx context.Context) event {
	dialCtx, cancel := context.WithTimeout(ctx, s.openTimeout)
	defer cancel()
	conn, err := s.dialer.Dial(dialCtx, s.url)
	if err != nil {
		if ctx.Err() != nil {
			return event{kind: evCanceled, err: canceled(ctx)}
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return event{kind: evDialFailed, err: newError(KindTimeout, "connection not open within "+s.openTimeout.String(), err)}
		}
		return event{kind: evDialFailed, err: newError(KindConnection, "", err)}
	}
	s.conn = conn
	s.logger.Debug("spark session opened", slog.String("uid", s.uid))
	return event{kind: evDialed}
}

func (s *session) send(ctx context.Context) event {
	if err := s.conn.WriteMessage(s.payload); err != nil {
		if ctx.Err() != nil {
			return event{kind: evCanceled, err: canceled(ctx)}
		}
		return event{kind: evSendFailed, err: newError(KindConnection, "send request", err)}
	}
	return event{kind: evSent}
}

func (s *session) read(ctx context.Context) event {
	data, err := s.conn.ReadMessage(time.Now().Add(s.idleTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return event{kind: evCanceled, err: canceled(ctx)}
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return event{kind: evFailed, err: newError(KindTimeout, "no frame within "+s.idleTimeout.String(), err)}
		}
		return event{kind: evFailed, err: newError(KindConnection, "read frame", err)}
	}
	f, err := Decode(data)
	if err != nil {
		s.logger.Warn("spark frame rejected", slog.String("uid", s.uid), slog.String("error", err.Error()))
		return event{kind: evFailed, err: err}
	}
	return event{kind: evFrame, frame: f}
}

func (s *session) closeConn() {
	if s.conn == nil {
		return
	}
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// canceled reports why the caller's context ended. An expired caller deadline
// counts as a timeout.
func canceled(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(KindTimeout, "request deadline exceeded", context.Cause(ctx))
	}
	return newError(KindCanceled, "", context.Cause(ctx))
}
