package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aretw0/quipu/pkg/core"
)

var (
	watchServer  string
	watchPattern string
	watchRaw     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <collection>",
	Short: "Stream the events of a collection from a running server",
	Long: `Watch subscribes to a collection on a running "quipu serve" and prints
each event as it happens, until the stream is stopped or interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		u, err := url.Parse(strings.TrimRight(watchServer, "/") + "/collections/objects/" + url.PathEscape(args[0]))
		if err != nil {
			fatal("Invalid server URL", err)
		}
		if watchPattern != "" {
			u.RawQuery = url.Values{"pattern": {watchPattern}}.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			fatal("Invalid request", err)
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fatal("Error connecting", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fatal("Error subscribing", fmt.Errorf("server answered %s", resp.Status))
		}

		color.New(color.Faint).Fprintf(os.Stderr, "watching %s on %s\n", args[0], watchServer)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 8<<20)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: error"):
				color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "stream ended by the server")
			case strings.HasPrefix(line, "data: "):
				data := strings.TrimPrefix(line, "data: ")
				if data == "[DONE]" {
					return
				}
				printEvent(data)
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			fatal("Stream error", err)
		}
	},
}

var eventColors = map[core.EventType]*color.Color{
	core.EventCreate: color.New(color.FgGreen, color.Bold),
	core.EventUpdate: color.New(color.FgYellow, color.Bold),
	core.EventDelete: color.New(color.FgRed, color.Bold),
	core.EventRead:   color.New(color.FgCyan),
	core.EventQuery:  color.New(color.FgBlue),
	core.EventStop:   color.New(color.FgMagenta, color.Bold),
}

func printEvent(data string) {
	if watchRaw {
		fmt.Println(data)
		return
	}

	var e core.Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		fmt.Println(data)
		return
	}
	c, ok := eventColors[e.Type]
	if !ok {
		c = color.New(color.Reset)
	}

	ts := time.UnixMilli(e.Timestamp).Format("15:04:05.000")
	fmt.Printf("%s %s %s\n", color.New(color.Faint).Sprint(ts), c.Sprintf("%-6s", e.Type), e.ID)
	if e.Data != nil && e.Type != core.EventStop {
		payload, _ := json.Marshal(e.Data)
		fmt.Printf("       %s\n", payload)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchServer, "server", "s", "http://localhost:8080", "Server base URL")
	watchCmd.Flags().StringVarP(&watchPattern, "pattern", "p", "", "Only events whose document id matches this glob")
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "Print raw JSON events")
}
