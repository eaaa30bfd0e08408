package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/telnet2/shelld/internal/logging"
)

// streamServer is the accept loop shared by the TCP stream protocols.
type streamServer struct {
	name    string
	typ     string
	address string
	handle  func(ctx context.Context, conn net.Conn)
	log     zerolog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStreamServer(name, typ, address string, handle func(ctx context.Context, conn net.Conn)) *streamServer {
	return &streamServer{
		name:    name,
		typ:     typ,
		address: address,
		handle:  handle,
		log:     logging.Component("transport").With().Str("listener", name).Str("type", typ).Logger(),
		conns:   make(map[net.Conn]struct{}),
	}
}

func (s *streamServer) Name() string { return s.name }
func (s *streamServer) Type() string { return s.typ }

func (s *streamServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.address
}

func (s *streamServer) Bind(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrAlreadyBound
	}

	ln, err := listen(ctx, s.address)
	if err != nil {
		return err
	}
	connCtx, cancel := context.WithCancel(context.Background())
	s.ln = ln
	s.cancel = cancel

	s.wg.Add(1)
	go s.accept(connCtx, ln)
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listener bound")
	return nil
}

func (s *streamServer) accept(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("connection accepted")
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

// track registers conn and reserves a wait group slot for its handler. It
// fails once Unbind has started.
func (s *streamServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *streamServer) untrack(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *streamServer) Unbind(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.ln = nil
	s.cancel()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	err := ln.Close()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	if werr := waitDone(ctx, done); werr != nil {
		return werr
	}
	s.log.Info().Msg("listener unbound")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
