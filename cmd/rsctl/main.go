// Package main implements the rsctl CLI for manual operations against a
// roomsyncd device agent.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client talks to one roomsyncd HTTP server.
type client struct {
	serverURL string
	json      bool
	http      *http.Client
}

func newRootCmd() *cobra.Command {
	c := &client{http: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:   "rsctl",
		Short: "CLI for roomsyncd device operations",
		Long: `rsctl is a command-line interface for the roomsyncd device agent.
It drives the same operations as the tablet UI: logging in, updating rooms,
uploading reports and reading the shared counters.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://127.0.0.1:8470", "roomsyncd server URL")
	root.PersistentFlags().BoolVar(&c.json, "json", false, "print raw JSON responses")

	root.AddCommand(
		healthCmd(c),
		loginCmd(c),
		logoutCmd(c),
		whoamiCmd(c),
		roomsCmd(c),
		statusCmd(c),
		remarkCmd(c),
		claimCmd(c),
		editCmd(c),
		uploadCmd(c),
		resetCmd(c),
		expireCmd(c),
		countersCmd(c),
		scoreboardCmd(c),
		vacanciesCmd(c),
		noteCmd(c),
		areasCmd(c),
		syncCmd(c),
		historyCmd(c),
		eventsCmd(c),
	)
	return root
}

// do sends a request and decodes a 200 response into out, if non-nil.
func (c *client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// checkStatus turns a non-200 response into an error carrying the server's
// message.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(bytes.TrimSpace(body)))
}

// printJSON writes v indented, for commands run with --json.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
