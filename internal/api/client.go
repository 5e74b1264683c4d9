package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// callTimeout bounds a whole control round trip.
const callTimeout = 5 * time.Second

// Call sends one request to the control socket at path and decodes the
// response data into out, which may be nil.
func Call(path, action string, data, out any) error {
	conn, err := net.DialTimeout("unix", path, callTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(callTimeout))

	req := Request{Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", action, err)
		}
		req.Data = raw
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send %s request: %w", action, err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read %s response: %w", action, err)
	}
	if !resp.Ok {
		return fmt.Errorf("%s failed: %s", action, resp.Err)
	}
	if out != nil {
		if len(resp.Data) == 0 {
			return errors.New(action + " response has no data")
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", action, err)
		}
	}
	return nil
}

// Resize asks the session behind path to resize its pty.
func Resize(path string, rows, cols uint16) error {
	return Call(path, ActionResize, ResizeRequest{Rows: rows, Cols: cols}, nil)
}

// Status fetches the session's status.
func Status(path string) (*StatusResponse, error) {
	var status StatusResponse
	if err := Call(path, ActionStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Detach disconnects one client of the session, leaving the rest attached.
func Detach(path, id string) error {
	return Call(path, ActionDetach, DetachRequest{ID: id}, nil)
}

// Kill asks the session to shut down.
func Kill(path string) error {
	return Call(path, ActionKill, nil, nil)
}
