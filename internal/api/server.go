// Package api serves the out-of-band control socket that sits next to a
// session's data socket. The data socket carries nothing but raw terminal
// bytes; resize, status and kill requests travel here as one JSON request
// and one JSON response per connection, as does detach for a single client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/PiranhaCodes/ptymux/internal/mux"
	"github.com/PiranhaCodes/ptymux/internal/pty"
)

// Terminal is the pty side of a session. *pty.Session implements it.
type Terminal interface {
	Pid() int
	Exited() bool
	Resize(pty.Size) error
	Size() (pty.Size, error)
}

// Multiplexer is the client side of a session. *mux.Server implements it.
type Multiplexer interface {
	Clients() []mux.ClientInfo
	Detach(id string) error
	Shutdown()
}

// Server handles control socket connections for one session.
type Server struct {
	name string
	term Terminal
	mux  Multiplexer

	wg sync.WaitGroup
}

// NewServer creates a control server for the named session.
func NewServer(name string, term Terminal, m Multiplexer) *Server {
	return &Server{name: name, term: term, mux: m}
}

// Serve accepts control connections on ln until ctx is cancelled or the
// listener fails. Serve closes ln and waits for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()
	defer ln.Close()

	log.Printf("[API] Control socket listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		encoder.Encode(failure("invalid request: " + err.Error()))
		return
	}

	var resp Response
	switch req.Action {
	case ActionResize:
		resp = s.handleResize(req.Data)
	case ActionStatus:
		resp = s.handleStatus()
	case ActionKill:
		resp = s.handleKill()
	case ActionDetach:
		resp = s.handleDetach(req.Data)
	default:
		resp = failure("unknown action: " + req.Action)
	}
	if err := encoder.Encode(resp); err != nil {
		log.Printf("[API] Failed to send %s response: %v", req.Action, err)
	}
}

func (s *Server) handleResize(data json.RawMessage) Response {
	var req ResizeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure("invalid resize request: " + err.Error())
	}
	if req.Cols == 0 || req.Rows == 0 {
		return failure("cols and rows must be positive")
	}

	err := s.term.Resize(pty.Size{
		Rows:        req.Rows,
		Cols:        req.Cols,
		PixelWidth:  req.XPixel,
		PixelHeight: req.YPixel,
	})
	if err != nil {
		return failure(err.Error())
	}
	return Response{Ok: true}
}

func (s *Server) handleStatus() Response {
	status := StatusResponse{
		Session: s.name,
		Pid:     s.term.Pid(),
		Exited:  s.term.Exited(),
		Clients: s.mux.Clients(),
	}
	status.Count = len(status.Clients)
	if size, err := s.term.Size(); err == nil {
		status.Rows, status.Cols = size.Rows, size.Cols
	}
	return success(status)
}

func (s *Server) handleKill() Response {
	log.Printf("[API] Kill requested for session %s", s.name)
	s.mux.Shutdown()
	return Response{Ok: true}
}

func (s *Server) handleDetach(data json.RawMessage) Response {
	var req DetachRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure("invalid detach request: " + err.Error())
	}
	if req.ID == "" {
		return failure("client id is required")
	}
	if err := s.mux.Detach(req.ID); err != nil {
		return failure(err.Error())
	}
	return Response{Ok: true}
}

func success(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return failure(fmt.Sprintf("encode response: %v", err))
	}
	return Response{Ok: true, Data: data}
}

func failure(msg string) Response {
	return Response{Ok: false, Err: msg}
}
