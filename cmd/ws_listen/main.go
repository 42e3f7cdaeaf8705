package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors the daemon's state message wrapper.
type envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3001/ws/state", "hallmidi state websocket URL")
		raw   = flag.Bool("raw", false, "Print messages as received")
		notes = flag.Bool("notes-only", false, "Only print note messages")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Protects concurrent writes (pings and the close frame).
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// The daemon only pushes; any traffic proves the link is alive.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				if *raw {
					fmt.Println(string(message))
					continue
				}
				if line := formatMessage(message, *notes); line != "" {
					fmt.Println(line)
				}
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatMessage renders one state message as a single line. It returns ""
// for messages filtered out by notesOnly.
func formatMessage(message []byte, notesOnly bool) string {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return "[TEXT] " + string(message)
	}
	if notesOnly && env.Type != "note" {
		return ""
	}

	ts := env.Ts.Format("15:04:05.000")

	switch env.Type {
	case "note":
		var n struct {
			Key       int  `json:"key"`
			Note      int  `json:"note"`
			On        bool `json:"on"`
			Velocity  int  `json:"velocity"`
			Delivered bool `json:"delivered"`
		}
		if err := json.Unmarshal(env.Data, &n); err != nil {
			break
		}
		state := "OFF"
		if n.On {
			state = "ON "
		}
		line := fmt.Sprintf("%s [NOTE] %s key=%-2d note=%-3d vel=%d", ts, state, n.Key, n.Note, n.Velocity)
		if !n.Delivered {
			line += " (dropped)"
		}
		return line

	case "mode_changed":
		var m struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(env.Data, &m); err != nil {
			break
		}
		return fmt.Sprintf("%s [MODE] %s", ts, strings.ToUpper(m.Mode))

	case "calibration_finished":
		var r struct {
			Updated []int `json:"updated"`
			Skipped []int `json:"skipped"`
			Windows int   `json:"windows"`
		}
		if err := json.Unmarshal(env.Data, &r); err != nil {
			break
		}
		return fmt.Sprintf("%s [CALIBRATION] updated=%d skipped=%d windows=%d", ts, len(r.Updated), len(r.Skipped), r.Windows)
	}

	// state_init, settings_changed and anything unknown are pretty-printed.
	var pretty map[string]any
	if err := json.Unmarshal(env.Data, &pretty); err != nil {
		return fmt.Sprintf("%s [%s] %s", ts, strings.ToUpper(env.Type), string(env.Data))
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	return fmt.Sprintf("%s [%s]\n%s", ts, strings.ToUpper(env.Type), out)
}
