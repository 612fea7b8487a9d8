package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"supernode/internal/announce"
	"supernode/internal/config"
	"supernode/internal/crypto"
	"supernode/internal/daemon"
	"supernode/internal/debuglog"
	"supernode/internal/metrics"
	"supernode/internal/pprofutil"
	"supernode/internal/proto"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type globalFlags struct {
	configPath string
	home       string
	debug      bool
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "supernode",
		Short:         "Authenticated producer session layer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.home, "home", "", "key directory (overrides node.home)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.AddCommand(
		runCmd(g),
		keygenCmd(g),
		addressCmd(g),
		announceCmd(g),
		statusCmd(g),
	)
	return root
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.home != "" {
		cfg.Node.Home = g.home
	}
	if g.debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func runCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Listen for producers and keep sessions with them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Listen.Addr = addr
			}
			if err := debuglog.Init(cfg.Log.Level, cfg.Log.File); err != nil {
				return fmt.Errorf("log setup: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if _, err := pprofutil.StartFromEnv(ctx); err != nil {
				return err
			}
			runner, err := daemon.NewRunner(cfg, daemon.Options{})
			if err != nil {
				return fmt.Errorf("load node failed: %w", err)
			}
			ready := make(chan string, 1)
			go func() {
				select {
				case actual := <-ready:
					fmt.Fprintf(cmd.OutOrStdout(), "READY addr=%s address=%s\n", actual, runner.Self.Self.Address)
				case <-ctx.Done():
				}
			}()
			return runner.Run(ctx, ready)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides listen.addr)")
	return cmd
}

func keygenCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create the producer key pair if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Node.Home, 0700); err != nil {
				return err
			}
			pub, _, err := crypto.LoadOrCreateKeypair(cfg.Node.Home)
			if err != nil {
				return err
			}
			printIdentity(cmd.OutOrStdout(), pub)
			return nil
		},
	}
}

func addressCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the producer address and public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			pub, _, err := crypto.LoadKeypair(cfg.Node.Home)
			if err != nil {
				return err
			}
			printIdentity(cmd.OutOrStdout(), pub)
			return nil
		},
	}
}

func printIdentity(w io.Writer, pub crypto.PublicKey) {
	fmt.Fprintf(w, "address=%s\n", crypto.DeriveAddress(pub))
	fmt.Fprintf(w, "pubkey=%s\n", pub.Hex())
}

func announceCmd(g *globalFlags) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Print a signed reachability announcement as hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if endpoint == "" {
				endpoint = cfg.Announce.Endpoint
			}
			if endpoint == "" {
				return fmt.Errorf("missing --endpoint")
			}
			ep, err := proto.ParseEndpoint(endpoint)
			if err != nil {
				return fmt.Errorf("bad endpoint: %w", err)
			}
			_, priv, err := crypto.LoadKeypair(cfg.Node.Home)
			if err != nil {
				return err
			}
			msg, err := announce.Build(priv, ep, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(msg))
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "reachable ip:port to announce")
	return cmd
}

func statusCmd(g *globalFlags) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarise the last metrics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Metrics.Path
			}
			if path == "" {
				return fmt.Errorf("no metrics path configured")
			}
			snap, err := readMetricsSnapshot(path)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "snapshot at %s\n", snap.GeneratedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "  sessions: current=%d closed=%d\n", snap.CurrentSession, snap.Session.Closed)
			fmt.Fprintf(w, "  handshakes: accepted=%d rejected=%d limited=%d\n",
				snap.Handshake.Accepted, snap.Handshake.Rejected, snap.Handshake.Limited)
			fmt.Fprintf(w, "  packets: received=%d sent=%d\n", snap.Session.PacketsReceived, snap.Session.PacketsSent)
			fmt.Fprintf(w, "  announcements: accepted=%d replaced=%d dropped=%d\n",
				snap.Announce.Accepted, snap.Announce.Replaced, snap.Announce.Dropped)
			fmt.Fprintf(w, "  dials: attempted=%d failed=%d\n", snap.Announce.DialAttempted, snap.Announce.DialFailed)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "metrics", "", "metrics snapshot file (overrides metrics.path)")
	return cmd
}

func readMetricsSnapshot(path string) (metrics.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return metrics.Snapshot{}, fmt.Errorf("bad snapshot %s: %w", path, err)
	}
	return snap, nil
}
