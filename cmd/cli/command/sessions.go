package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	c "commlink/cmd/cli/command/client"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and drive a running coordinator",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newAPIClient().ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if list.Count == 0 {
			color.Yellow("No clients connected")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tADDRESS\tCONNECTED")
		for _, s := range list.Sessions {
			fmt.Fprintf(w, "%d\t%s\t%s\n", s.ID, s.Address, s.ConnectedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var sessionsCommandCmd = &cobra.Command{
	Use:   "command <id> <command...>",
	Short: "Run a command on a peer; its output appears on the coordinator console",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		if err := newAPIClient().SendCommand(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		color.Green("Command sent to client %d", id)
		return nil
	},
}

var sessionsChatCmd = &cobra.Command{
	Use:   "chat <id|all> <text...>",
	Short: "Send a chat line to one peer, or to every peer with \"all\"",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		api := newAPIClient()

		if args[0] == "all" {
			resp, err := api.Broadcast(cmd.Context(), text)
			if err != nil {
				return err
			}
			color.Green("Chat sent to %d client(s)", resp.Recipients-len(resp.Failed))
			ids := make([]int64, 0, len(resp.Failed))
			for id := range resp.Failed {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for _, id := range ids {
				color.Red("Client %d: %s", id, resp.Failed[id])
			}
			return nil
		}

		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		if err := api.SendChat(cmd.Context(), id, text); err != nil {
			return err
		}
		color.Green("Chat sent to client %d", id)
		return nil
	},
}

var sessionsKickCmd = &cobra.Command{
	Use:   "kick <id>",
	Short: "End the session with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		if err := newAPIClient().Kick(cmd.Context(), id); err != nil {
			return err
		}
		color.Green("Client %d disconnected", id)
		return nil
	},
}

func init() {
	// everything after <id> belongs to the command line, "-la" included
	sessionsCommandCmd.Flags().SetInterspersed(false)
	sessionsChatCmd.Flags().SetInterspersed(false)

	sessionsCmd.AddCommand(sessionsListCmd, sessionsCommandCmd, sessionsChatCmd, sessionsKickCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func newAPIClient() *c.HTTPClient {
	api := c.NewHTTPClient(apiURL)
	api.SetToken(token)
	return api
}

func parseSessionID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid client id %q", s)
	}
	return id, nil
}
