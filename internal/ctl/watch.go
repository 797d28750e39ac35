package ctl

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal in a human-readable format until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, u.String()))
		fmt.Println()
	}

	// Build a filter set for O(1) lookup.
	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var ev map[string]any
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			evType, _ := ev["type"].(string)
			if len(filterSet) > 0 && !filterSet[evType] {
				continue
			}

			if opts.JSON {
				fmt.Println(string(msg))
			} else {
				renderEvent(evType, ev)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		if !opts.JSON {
			fmt.Println()
			fmt.Println(colorize(dim, "  disconnecting..."))
		}
	case <-done:
	}
	return nil
}

// renderEvent prints one event as a compact line.
func renderEvent(evType string, ev map[string]any) {
	ts, _ := ev["ts"].(string)
	if len(ts) > 19 {
		ts = ts[11:19]
	}

	switch evType {
	case "state":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		fmt.Printf("  %s %s %s -> %s\n", colorize(dim, ts), colorize(yellow, "state"), from, colorize(stateColor(to), to))
	case "capture":
		freq, _ := ev["frequency_hz"].(float64)
		file, _ := ev["file"].(string)
		fmt.Printf("  %s %s %s %s\n", colorize(dim, ts), colorize(green, "capture"), formatHz(int64(freq)), colorize(dim, file))
	case "cycle":
		n, _ := ev["cycles_run"].(float64)
		fmt.Printf("  %s %s cycle %d complete\n", colorize(dim, ts), colorize(green, "cycle"), int(n))
	case "log":
		level, _ := ev["level"].(string)
		msg, _ := ev["message"].(string)
		fmt.Printf("  %s %s %s\n", colorize(dim, ts), colorize(dim, level), msg)
	default:
		b, _ := json.Marshal(ev)
		fmt.Printf("  %s %s\n", colorize(dim, ts), string(b))
	}
}
