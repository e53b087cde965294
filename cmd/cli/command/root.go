package command

// root.go defines the root command for the commlink CLI and its global flags.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL string // status API base URL
	token  string // status API bearer token
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "commlink",
	Short: "commlink - command and chat channel between a coordinator and its peers",
	Long: `commlink drives both ends of the channel:
- "peer connect" joins a coordinator, runs the commands it sends and
  chats with its operator
- "sessions" inspects and drives a running coordinator through its status API

Use "commlink command --help" to see the flags of each command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("COMMLINK_API", "http://127.0.0.1:8088"), "status API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("STATUS_TOKEN"), "status API bearer token")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
