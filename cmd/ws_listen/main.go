package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ============================================================================
// ws_listen - mixsync state feed viewer
// ============================================================================
// Connects to the daemon's state websocket (--state-ws-addr) and prints every
// frame as it arrives.
//
// Usage:
//   ws_listen --url ws://127.0.0.1:8765/state
//   ws_listen --url ws://127.0.0.1:8765/state --raw
// ============================================================================

// frame mirrors the daemon's envelope; data stays raw until the type is known.
type frame struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type volumeSynced struct {
	SourceRaw   int64   `json:"source_raw"`
	TargetValue float64 `json:"target_value"`
}

type writeFailed struct {
	SourceRaw int64  `json:"source_raw"`
	Error     string `json:"error"`
}

var rootCmd = &cobra.Command{
	Use:   "ws_listen",
	Short: "Print frames from the mixsync state websocket",
	Args:  cobra.NoArgs,
	RunE:  run,
}

var (
	wsURL string
	raw   bool
)

func init() {
	rootCmd.Flags().StringVar(&wsURL, "url", "ws://127.0.0.1:8765/state", "mixsync state websocket URL")
	rootCmd.Flags().BoolVar(&raw, "raw", false, "print frames verbatim")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd, fang.WithoutManpage(), fang.WithoutCompletions(), fang.WithoutVersion()); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return errors.Wrap(err, "invalid websocket URL")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to connect")
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if raw {
				fmt.Println(string(message))
				continue
			}
			printFrame(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
	return nil
}

func printFrame(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	ts := f.Ts.Local().Format("15:04:05.000")

	switch f.Type {
	case "volume_synced":
		var v volumeSynced
		if err := json.Unmarshal(f.Data, &v); err == nil {
			fmt.Printf("%s [VOLUME] source=%d target=%g\n", ts, v.SourceRaw, v.TargetValue)
			return
		}
	case "write_failed":
		var v writeFailed
		if err := json.Unmarshal(f.Data, &v); err == nil {
			fmt.Printf("%s [WRITE FAILED] source=%d error=%s\n", ts, v.SourceRaw, v.Error)
			return
		}
	case "state_init":
		var pretty map[string]any
		if err := json.Unmarshal(f.Data, &pretty); err == nil {
			b, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("%s [STATE]\n%s\n", ts, string(b))
			return
		}
	}
	fmt.Printf("%s [%s] %s\n", ts, f.Type, string(f.Data))
}
