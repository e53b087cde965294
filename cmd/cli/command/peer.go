package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"commlink/internal/config"
	"commlink/internal/executor"
	"commlink/internal/logging"
	"commlink/internal/microservices/tcp"
	"commlink/internal/presenter"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Peer side of the channel",
}

var peerConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a coordinator and serve its commands",
	Long: `Connects to a coordinator, executes the commands it sends and relays chat.

Lines typed on stdin are sent as chat. Two lines are special:
  /screenshot <file>   send an image file
  /quit                end the session`,
	RunE: runPeerConnect,
}

func init() {
	peerConnectCmd.Flags().StringP("server", "s", "", "coordinator address host:port (default SERVER_ADDR)")
	peerConnectCmd.Flags().String("dir", "", "working directory for commands (default COMMAND_DIR)")
	peerConnectCmd.Flags().Duration("command-timeout", 0, "per-command timeout (default COMMAND_TIMEOUT)")

	peerCmd.AddCommand(peerConnectCmd)
	rootCmd.AddCommand(peerCmd)
}

func runPeerConnect(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.ServerAddr = v
	}
	if v, _ := cmd.Flags().GetString("dir"); v != "" {
		cfg.CommandDir = v
	}
	if v, _ := cmd.Flags().GetDuration("command-timeout"); v > 0 {
		cfg.CommandTimeout = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile := logging.New("peer", logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Dir:    cfg.LogDir,
	})
	defer logFile.Close()

	console := presenter.NewConsole(os.Stdout, presenter.NewScreenshotSaver(cfg.ScreenshotDir))
	backend := executor.NewShellExecutor(cfg.CommandTimeout, cfg.CommandDir, logger)

	peer := tcp.NewPeerClient(tcp.PeerConfig{
		ServerAddr:   cfg.ServerAddr,
		DialTimeout:  cfg.DialTimeout,
		MaxFrameSize: uint64(cfg.MaxFrameSize),
		WriteTimeout: cfg.WriteTimeout,
	}, backend,
		tcp.WithPeerPresenter(console),
		tcp.WithPeerLogger(logger),
	)

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := peer.Connect(sigCtx); err != nil {
		return err
	}

	// a signal ends the session politely: exit frame first, then close
	go func() {
		<-sigCtx.Done()
		peer.Close()
	}()

	sessionDone := make(chan struct{})
	go func() {
		input := presenter.NewPeerInput(peer, os.Stdout)
		if err := input.Run(sigCtx, os.Stdin, sessionDone); err != nil {
			logger.Warn("peer_input_error", "error", err.Error())
		}
	}()

	err = peer.Run(context.WithoutCancel(cmd.Context()))
	close(sessionDone)
	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}
	return nil
}
