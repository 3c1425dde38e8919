// ABOUTME: Terminal client for a chat-relay worker over WebSocket.
// ABOUTME: Follows the message log with offset persistence and sends stdin lines.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// frame mirrors the wire format of the relay's WebSocket endpoint.
type frame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type messageData struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

type systemData struct {
	Content string `json:"content"`
}

type helloData struct {
	Session   string `json:"session"`
	Recovered bool   `json:"recovered"`
}

type ackData struct {
	ID          int64  `json:"id,omitempty"`
	ClientToken string `json:"clientToken"`
}

type errorData struct {
	Code        string `json:"code"`
	ClientToken string `json:"clientToken,omitempty"`
}

type sendPayload struct {
	Content     string `json:"content"`
	ClientToken string `json:"clientToken"`
}

// offsetPath returns where the last seen message id is persisted between runs.
func offsetPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ".relay-tail.offset"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "chatrelay", "tail.offset")
}

func loadOffset(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func saveOffset(path string, offset int64) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	_ = os.WriteFile(path, []byte(strconv.FormatInt(offset, 10)), 0644)
}

func main() {
	addr := flag.String("addr", "localhost:3000", "relay worker address")
	fromStart := flag.Bool("from-start", false, "replay the whole log instead of resuming")
	readOnly := flag.Bool("read-only", false, "follow without reading stdin")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	offPath := offsetPath()
	offset := loadOffset(offPath)
	if *fromStart {
		offset = 0
	}

	if err := run(ctx, *addr, offPath, offset, *readOnly); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, offPath string, offset int64, readOnly bool) error {
	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	var session string
	retryDelay := time.Second

	// Stdin is read once and fanned into every successive connection.
	lines := make(chan string)
	if !readOnly {
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" {
					lines <- line
				}
			}
			close(lines)
		}()
	}

	for {
		u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
		q := u.Query()
		q.Set("offset", strconv.FormatInt(offset, 10))
		if session != "" {
			q.Set("session", session)
		}
		u.RawQuery = q.Encode()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			gray.Fprintf(os.Stderr, "connect failed (%v), retrying in %s\n", err, retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
			if retryDelay < 10*time.Second {
				retryDelay *= 2
			}
			continue
		}
		retryDelay = time.Second

		session, offset, err = follow(ctx, conn, lines, offPath, offset, gray, cyan, yellow, red)
		conn.Close()
		if err != nil || ctx.Err() != nil {
			return err
		}
	}
}

// follow runs one connection until it drops or ctx ends. Returns the session
// id and offset to resume from.
func follow(ctx context.Context, conn *websocket.Conn, lines <-chan string, offPath string, offset int64, gray, cyan, yellow, red *color.Color) (string, int64, error) {
	var session string

	frames := make(chan frame)
	readErr := make(chan error, 1)
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return session, offset, nil

		case err := <-readErr:
			gray.Fprintf(os.Stderr, "disconnected: %v\n", err)
			return session, offset, nil

		case line, ok := <-lines:
			if !ok {
				// Stdin closed; keep following read-only.
				lines = nil
				continue
			}
			payload, err := json.Marshal(sendPayload{Content: line, ClientToken: uuid.New().String()})
			if err != nil {
				return session, offset, err
			}
			if err := conn.WriteJSON(frame{Action: "send", Data: payload}); err != nil {
				gray.Fprintf(os.Stderr, "send failed: %v\n", err)
				return session, offset, nil
			}

		case f := <-frames:
			switch f.Action {
			case "hello":
				var h helloData
				if err := json.Unmarshal(f.Data, &h); err != nil {
					continue
				}
				session = h.Session
				if h.Recovered {
					gray.Println("connected (recovered)")
				} else {
					gray.Println("connected")
				}
			case "message":
				var m messageData
				if err := json.Unmarshal(f.Data, &m); err != nil {
					continue
				}
				cyan.Printf("%6d ", m.ID)
				fmt.Println(m.Content)
				if m.ID > offset {
					offset = m.ID
					saveOffset(offPath, offset)
				}
			case "system":
				var s systemData
				if err := json.Unmarshal(f.Data, &s); err != nil {
					continue
				}
				yellow.Printf("     * %s\n", s.Content)
			case "ack":
				var a ackData
				if err := json.Unmarshal(f.Data, &a); err != nil {
					continue
				}
				gray.Printf("     ✓ sent (id %d)\n", a.ID)
			case "error":
				var e errorData
				if err := json.Unmarshal(f.Data, &e); err != nil {
					continue
				}
				red.Fprintf(os.Stderr, "send rejected: %s\n", e.Code)
			}
		}
	}
}
