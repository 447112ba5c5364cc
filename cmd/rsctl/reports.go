package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fyrsmithlabs/roomsync/internal/device"
	httpserver "github.com/fyrsmithlabs/roomsync/internal/http"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/spf13/cobra"
)

func uploadCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <departure|inhouse> <file>",
		Short: "Upload a front desk report",
		Long: `Upload a departure or in-house report. PDF, XLSX and plain text reports
are accepted. Requires a front desk login on the device.

Examples:
  rsctl upload departure ./departures-0602.pdf
  rsctl upload inhouse ./inhouse.xlsx`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := roster.ParseReportKind(args[0])
			if err != nil {
				return err
			}
			req, err := c.uploadRequest(kind, args[1])
			if err != nil {
				return err
			}
			var resp device.ReportResult
			if err := c.send(req, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Ingested %s report: %d room(s) matched, %d changed\n", resp.Kind, len(resp.Matched), len(resp.Changed))
			if len(resp.Unmatched) > 0 {
				fmt.Fprintf(out, "Not in roster: %s\n", strings.Join(resp.Unmatched, ", "))
			}
			return nil
		},
	}
}

func (c *client) uploadRequest(kind roster.ReportKind, path string) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.serverURL+"/api/v1/reports/"+string(kind), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func resetCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Start a new day on the shared roster",
		Long: `Reset every room to its start-of-day state and clear the report counters.
Open rooms keep their status. Requires a front desk login.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.ResetResponse
			if err := c.do(http.MethodPost, "/api/v1/roster/reset", nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Roster reset (%s)\n", resp.ResetID)
			return nil
		},
	}
}

func expireCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Drop reports older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp device.ExpiryResult
			if err := c.do(http.MethodPost, "/api/v1/reports/expire", nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d report(s), reverted %d room(s)\n", resp.Expired, len(resp.Reverted))
			return nil
		},
	}
}

func countersCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "counters",
		Short: "Show the departure and in-house counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp roster.Counters
			if err := c.do(http.MethodGet, "/api/v1/counters", nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Departures: %d\n", resp.DepartureCount)
			fmt.Fprintf(out, "In-house:   %d\n", resp.InhouseCount)
			fmt.Fprintf(out, "Reports:    %d\n", len(resp.Reports))
			return nil
		},
	}
}

func scoreboardCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "scoreboard",
		Short: "Show cleaning points per housekeeper and the day's workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.ScoreboardResponse
			if err := c.do(http.MethodGet, "/api/v1/scoreboard", nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPOINTS\tROOMS")
			for _, e := range resp.Scores {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", e.Assignee, e.Points, e.Rooms)
			}
			fmt.Fprintf(tw, "\nWorkload:\t%d departures + %d stay-overs = %d\n",
				resp.Workload.Departures, resp.Workload.StayOvers, resp.Workload.Total)
			return tw.Flush()
		},
	}
}

func vacanciesCmd(c *client) *cobra.Command {
	var minDays int
	cmd := &cobra.Command{
		Use:   "vacancies",
		Short: "List rooms that have stood vacant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/vacancies?min_days=" + strconv.Itoa(minDays)
			var resp httpserver.VacanciesResponse
			if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROOM\tFLOOR\tDAYS\tSINCE")
			for _, v := range resp.Vacancies {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", v.Number, v.Floor, v.Days, v.Since.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&minDays, "min-days", 1, "minimum whole days vacant")
	return cmd
}

func noteCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "note [text]",
		Short: "Show or replace the front desk note",
		Long: `Show the shared front desk note, or replace it when text is given.
Use "-" to read the note from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp roster.Note
			var err error
			if len(args) == 0 {
				err = c.do(http.MethodGet, "/api/v1/notes", nil, &resp)
			} else {
				text := args[0]
				if text == "-" {
					data, readErr := io.ReadAll(cmd.InOrStdin())
					if readErr != nil {
						return fmt.Errorf("failed to read from stdin: %w", readErr)
					}
					text = string(data)
				}
				err = c.do(http.MethodPut, "/api/v1/notes", httpserver.NoteRequest{Text: text}, &resp)
			}
			if err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			return nil
		},
	}
}

func areasCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "areas",
		Short: "List common areas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.AreasResponse
			if err := c.do(http.MethodGet, "/api/v1/areas", nil, &resp); err != nil {
				return err
			}
			return c.printAreas(cmd, resp)
		},
	}
	cmd.AddCommand(areaActionCmd(c, "done", "Mark a common area done"), areaActionCmd(c, "claim", "Claim a common area, or release your claim"))
	return cmd
}

func areaActionCmd(c *client, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <area-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.AreasResponse
			path := "/api/v1/areas/" + url.PathEscape(args[0]) + "/" + action
			if err := c.do(http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			return c.printAreas(cmd, resp)
		},
	}
}

func (c *client) printAreas(cmd *cobra.Command, resp httpserver.AreasResponse) error {
	if c.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tASSIGNEE")
	for _, a := range resp.Areas {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Status, a.Assignee)
	}
	return tw.Flush()
}

func syncCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Show whether local changes have reached the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.SyncResponse
			if err := c.do(http.MethodGet, "/api/v1/sync", nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Synced:  %t\n", resp.Synced)
			fmt.Fprintf(out, "Pending: %d\n", resp.Pending)
			fmt.Fprintf(out, "Failed:  %d\n", resp.Failed)
			if resp.LastError != "" {
				fmt.Fprintf(out, "Last error: %s\n", resp.LastError)
			}
			return nil
		},
	}
}

func historyCmd(c *client) *cobra.Command {
	var room string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the device's activity journal",
		Long: `Show recent actions recorded by this device, newest first.

Examples:
  rsctl history
  rsctl history --room 602 --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if room != "" {
				q.Set("room", room)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v1/history"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var resp httpserver.HistoryResponse
			if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tACTOR\tROOM\tCHANGE")
			for _, e := range resp.Entries {
				change := e.Detail
				if e.From != "" || e.To != "" {
					change = e.From + " -> " + e.To
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.At.Local().Format("01-02 15:04"), e.Action, e.Actor, e.Room, change)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "only entries for this room")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to show")
	return cmd
}

func eventsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream change events from the device",
		Long: `Stream change events until interrupted. Each event is printed as one
line of JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, c.serverURL+"/api/v1/events", nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			// The stream outlives the request timeout of the shared client.
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
			}
			defer resp.Body.Close()
			if err := checkStatus(resp); err != nil {
				return err
			}
			return copyEvents(cmd.OutOrStdout(), resp.Body)
		},
	}
}

// copyEvents prints the data line of each server-sent event.
func copyEvents(w io.Writer, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			fmt.Fprintln(w, data)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}
