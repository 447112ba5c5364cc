package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"

	httpserver "github.com/fyrsmithlabs/roomsync/internal/http"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/spf13/cobra"
)

func healthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check roomsyncd server health",
		Long: `Check the health status of the roomsyncd HTTP server.

Examples:
  # Check health
  rsctl health

  # Check a device across the lobby
  rsctl health --server http://10.0.0.12:8470`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.HealthResponse
			if err := c.do(http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
			fmt.Fprintf(out, "Device:        %s\n", resp.DeviceID)
			fmt.Fprintf(out, "Loaded:        %t\n", resp.Loaded)
			return nil
		},
	}
}

func loginCmd(c *client) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "login <name>",
		Short: "Log in on the device",
		Long: `Log in on the device as a housekeeper or front desk clerk.

Examples:
  rsctl login Maria
  rsctl login --role front_desk Ken`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := httpserver.LoginRequest{Name: args[0], Role: roster.Role(role)}
			var resp httpserver.SessionResponse
			if err := c.do(http.MethodPost, "/api/v1/session", req, &resp); err != nil {
				return err
			}
			return c.printSession(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(roster.RoleHousekeeping), "role: housekeeping or front_desk")
	return cmd
}

func logoutCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and release held edits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.SessionResponse
			if err := c.do(http.MethodDelete, "/api/v1/session", nil, &resp); err != nil {
				return err
			}
			return c.printSession(cmd, resp)
		},
	}
}

func whoamiCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show who is logged in on the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.SessionResponse
			if err := c.do(http.MethodGet, "/api/v1/session", nil, &resp); err != nil {
				return err
			}
			return c.printSession(cmd, resp)
		},
	}
}

func (c *client) printSession(cmd *cobra.Command, resp httpserver.SessionResponse) error {
	if c.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	if !resp.LoggedIn {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: not logged in\n", resp.DeviceID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", resp.DeviceID, resp.Identity.Name, resp.Identity.Role)
	return nil
}

func roomsCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List and inspect rooms",
	}
	cmd.AddCommand(roomsListCmd(c), roomsGetCmd(c))
	return cmd
}

func roomsListCmd(c *client) *cobra.Command {
	var floor int
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rooms, optionally filtered by floor or status",
		Long: `List rooms in roster order.

Examples:
  rsctl rooms list
  rsctl rooms list --floor 6
  rsctl rooms list --status checked_out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if cmd.Flags().Changed("floor") {
				q.Set("floor", strconv.Itoa(floor))
			}
			if status != "" {
				q.Set("status", status)
			}
			path := "/api/v1/rooms"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp httpserver.RoomsResponse
			if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if c.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROOM\tFLOOR\tSTATUS\tASSIGNEE\tCLEANED BY\tREMARK")
			for _, r := range resp.Rooms {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", r.Number, r.Floor, r.Status, r.Assignee, r.CleanedBy, r.Remark)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&floor, "floor", 0, "only rooms on this floor")
	cmd.Flags().StringVar(&status, "status", "", "only rooms with this status")
	return cmd
}

func roomsGetCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <room>",
		Short: "Show one room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.RoomResponse
			if err := c.do(http.MethodGet, roomPath(args[0], ""), nil, &resp); err != nil {
				return err
			}
			return c.printRoom(cmd, resp)
		},
	}
}

func statusCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <room> <status>",
		Short: "Set a room's cleaning status",
		Long: `Set a room's cleaning status.

Statuses: vacant cleaned cleaned_stay closed checked_out stay_clean
will_depart_today long_stay

Examples:
  rsctl status 602 cleaned`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.RoomResponse
			req := httpserver.StatusRequest{Status: args[1]}
			if err := c.do(http.MethodPut, roomPath(args[0], "status"), req, &resp); err != nil {
				return err
			}
			return c.printRoom(cmd, resp)
		},
	}
}

func remarkCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "remark <room> <text>",
		Short: "Save a remark on a room",
		Long: `Save a remark on a room. The device stamps it with your name and the time.
An empty text clears the remark.

Examples:
  rsctl remark 101 "extra towels"
  rsctl remark 101 ""`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.RoomResponse
			req := httpserver.RemarkRequest{Remark: args[1]}
			if err := c.do(http.MethodPut, roomPath(args[0], "remark"), req, &resp); err != nil {
				return err
			}
			return c.printRoom(cmd, resp)
		},
	}
}

func claimCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <room>",
		Short: "Claim a room, or release your claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.RoomResponse
			if err := c.do(http.MethodPost, roomPath(args[0], "claim"), nil, &resp); err != nil {
				return err
			}
			return c.printRoom(cmd, resp)
		},
	}
}

func editCmd(c *client) *cobra.Command {
	var cancel bool
	cmd := &cobra.Command{
		Use:   "edit <room>",
		Short: "Hold a room's remark for editing",
		Long: `Hold a room's remark so remote changes do not overwrite a draft.
Use --cancel to release the hold without saving.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := http.MethodPost
			if cancel {
				method = http.MethodDelete
			}
			var resp httpserver.RoomResponse
			if err := c.do(method, roomPath(args[0], "edit"), nil, &resp); err != nil {
				return err
			}
			return c.printRoom(cmd, resp)
		},
	}
	cmd.Flags().BoolVar(&cancel, "cancel", false, "release the hold")
	return cmd
}

func roomPath(number, action string) string {
	p := "/api/v1/rooms/" + url.PathEscape(number)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *client) printRoom(cmd *cobra.Command, resp httpserver.RoomResponse) error {
	if c.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "Room:\t%s\n", resp.Number)
	fmt.Fprintf(tw, "Category:\t%s\n", resp.Category)
	fmt.Fprintf(tw, "Status:\t%s\n", resp.Status)
	if resp.Assignee != "" {
		fmt.Fprintf(tw, "Assignee:\t%s\n", resp.Assignee)
	}
	if resp.ClaimedBy != "" {
		fmt.Fprintf(tw, "Claimed by:\t%s\n", resp.ClaimedBy)
	}
	if resp.CleanedBy != "" {
		fmt.Fprintf(tw, "Cleaned by:\t%s\n", resp.CleanedBy)
	}
	if resp.Remark != "" {
		fmt.Fprintf(tw, "Remark:\t%s\n", resp.Remark)
	}
	if len(resp.Leased) > 0 {
		fmt.Fprintf(tw, "Editing:\t%v\n", resp.Leased)
	}
	return tw.Flush()
}
