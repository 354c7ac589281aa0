package scpi

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// maxLine bounds a single control line.
const maxLine = 64 * 1024

// Server accepts control-plane connections.
type Server struct {
	handler      *Handler
	writeTimeout time.Duration
}

// NewServer serves h; writeTimeout bounds each reply (0 disables it).
func NewServer(h *Handler, writeTimeout time.Duration) *Server {
	return &Server{handler: h, writeTimeout: writeTimeout}
}

// Serve runs one goroutine per control connection until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control plane accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	log.Printf("Control client connected from %s", conn.RemoteAddr())
	defer log.Printf("Control client %s disconnected", conn.RemoteAddr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	sc.Split(ScanCommands)

	for sc.Scan() {
		reply, ok := s.handler.Handle(ctx, sc.Text())
		if !ok {
			continue
		}
		if s.writeTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			log.Printf("Warning: control reply to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		log.Printf("Warning: control read from %s: %v", conn.RemoteAddr(), err)
	}
}
