package events

import (
	"bufio"
	"errors"
	"net"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"animehub/pkg/logger"
)

// Server is a plain TCP feed: every connected client receives one JSON
// object per line.
type Server struct {
	Addr string
	Hub  *Hub

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(addr string, hub *Hub) *Server {
	return &Server{Addr: addr, Hub: hub}
}

// Listen binds the address and returns the bound one.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	logger.Get().Info("event feed listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}

// Serve accepts clients until Close. It returns nil after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("event feed: Serve called before Listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			logger.Get().Warn("event feed accept failed", zap.Error(err))
			continue
		}

		b, _ := json.Marshal(welcome{Type: "welcome", Transport: "tcp", Clients: s.Hub.Stats().TCPClients + 1})
		if _, err := conn.Write(append(b, '\n')); err != nil {
			_ = conn.Close()
			continue
		}
		s.Hub.Add(conn)
		log := logger.Get().With(zap.String("remote", conn.RemoteAddr().String()))
		log.Debug("feed client connected")

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() {
				s.Hub.Remove(c)
				log.Debug("feed client disconnected")
			}()

			// Input is ignored; EOF or an error ends the session.
			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}

// Run is Listen followed by Serve.
func (s *Server) Run() error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting and disconnects the feed's clients.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.Hub.mu.Lock()
	for c := range s.Hub.clients {
		_ = c.Close()
	}
	s.Hub.mu.Unlock()
	return err
}
