package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ============================================================================
// Status socket
// ============================================================================
// A read-only unix socket that reports the current StateSnapshot.
//
// Protocol: line-delimited JSON
//   - Client sends: {"type": "status"}
//   - Server responds: {"status": "ok", "state": {...}}
//     or {"status": "error", "error": "msg"}
// ============================================================================

const statusRequestType = "status"

type StatusRequest struct {
	Type string `json:"type"`
}

// StatusResponse is sent back for every request line.
type StatusResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	State  *StateSnapshot `json:"state,omitempty"`
}

// runStatusServer serves snapshots of store on socketPath until ctx is canceled.
func runStatusServer(ctx context.Context, socketPath string, store *StateStore, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return errors.Wrap(err, "remove existing socket")
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", socketPath)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o666); err != nil {
		return errors.Wrap(err, "chmod socket")
	}

	logger.Info("status socket listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("status listener closed")
				return nil
			}
			logger.Error("status accept error", "error", err)
			continue
		}
		go handleStatusConnection(conn, store, logger)
	}
}

func handleStatusConnection(conn net.Conn, store *StateStore, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("status request", "line", line)

		resp := statusReply(line, store)
		if err := encoder.Encode(resp); err != nil {
			logger.Warn("status response failed", "error", err)
			return
		}
	}
}

func statusReply(line string, store *StateStore) StatusResponse {
	var req StatusRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return StatusResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}
	}
	if req.Type != statusRequestType {
		return StatusResponse{Status: "error", Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
	snap := store.Snapshot()
	return StatusResponse{Status: "ok", State: &snap}
}

// QueryStatus asks a running daemon for its current state.
func QueryStatus(socketPath string, timeout time.Duration) (StateSnapshot, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return StateSnapshot{}, errors.Wrapf(err, "connect to %s", socketPath)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := json.NewEncoder(conn).Encode(StatusRequest{Type: statusRequestType}); err != nil {
		return StateSnapshot{}, errors.Wrap(err, "send request")
	}

	var resp StatusResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return StateSnapshot{}, errors.Wrap(err, "decode response")
	}
	if resp.Status != "ok" {
		return StateSnapshot{}, errors.Errorf("status error: %s", resp.Error)
	}
	if resp.State == nil {
		return StateSnapshot{}, errors.New("status response carries no state")
	}
	return *resp.State, nil
}
