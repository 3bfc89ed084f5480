// Command sstash runs a single stash node: it binds a primary read-write
// port and a read-only port, optionally replicates from a master, and
// periodically snapshots every stash to disk.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sstash/internal/config"
	"sstash/internal/replication"
	"sstash/internal/server"
	"sstash/internal/snapshot"
	"sstash/internal/stash"
	"sstash/internal/wire"
)

var version = "1.0.0" // set during build with -ldflags

// errArgument marks a bad positional argument (exit code 1); anything else
// run returns is treated as a bind/connect failure (exit code 2), per the
// CLI's documented exit codes.
var errArgument = errors.New("argument error")

var rootCmd = &cobra.Command{
	Use:   "sstash <primary_port> <read_only_port> [master_ip master_port]",
	Short: "sstash - in-memory key-value store with TTL, snapshots, and replication",
	Long: `sstash serves a named keyspace over a line-oriented TCP protocol,
with per-key TTL, periodic on-disk snapshots, and single-leader replication
to read-only followers.

Given two ports, sstash binds a read-write primary port and a read-only
port. Given a master address as well, it instead runs as a follower: the
read-only port still serves local clients, but all writes are rejected
locally and applied only from the master's replication stream.`,
	Version: version,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(2, 4)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errArgument, err)
		}
		return nil
	},
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sstash v%s\n", version)
		fmt.Printf("Built with Go %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", ".", "Directory for snapshot and off-heap value files")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().Duration("snapshot-interval", 60*time.Second, "Interval between snapshot sweeps")
	rootCmd.PersistentFlags().Int("stripe-count", 16, "Number of per-key lock stripes")
	rootCmd.PersistentFlags().Int("max-stashes", 64, "Maximum number of named stashes")
	rootCmd.PersistentFlags().Int("max-key-count", 1_000_000, "Default per-stash key capacity")

	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("snapshot_interval", rootCmd.PersistentFlags().Lookup("snapshot-interval"))
	viper.BindPFlag("stripe_count", rootCmd.PersistentFlags().Lookup("stripe-count"))
	viper.BindPFlag("max_stashes", rootCmd.PersistentFlags().Lookup("max-stashes"))
	viper.BindPFlag("max_key_count", rootCmd.PersistentFlags().Lookup("max-key-count"))

	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, args []string) error {
	primaryPort, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: invalid primary_port %q: %v", errArgument, args[0], err)
	}
	readOnlyPort, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: invalid read_only_port %q: %v", errArgument, args[1], err)
	}

	var masterAddr string
	if len(args) == 4 {
		masterAddr = args[2] + ":" + args[3]
	} else if len(args) == 3 {
		return fmt.Errorf("%w: master_ip given without master_port", errArgument)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: invalid config: %v", errArgument, err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	log.Printf("sstash: starting node, data_dir=%s stripes=%d max_stashes=%d",
		cfg.DataDir, cfg.StripeCount, cfg.MaxStashes)

	mgr, err := stash.NewManager(cfg.DataDir, cfg.StripeCount, cfg.MaxStashes, cfg.MaxKeyCount)
	if err != nil {
		return fmt.Errorf("initializing stash manager: %w", err)
	}
	if err := snapshot.Restore(cfg.DataDir, mgr); err != nil {
		return fmt.Errorf("restoring snapshots: %w", err)
	}

	var leader *replication.Leader
	var follower *replication.Follower
	var srv *server.Server
	if masterAddr == "" {
		leader = replication.NewLeader(cfg.ReplicationBufferSize)
		mgr.SetNotifier(leader)
		srv = server.New(mgr, leader)
	} else {
		srv = server.New(mgr, nil)
		srv.ForceReadOnly = true
		follower = replication.NewFollower(masterAddr, func(c *wire.Command) error {
			reply := server.Dispatch(mgr, c, false)
			if reply.Kind == wire.ReplyError {
				return fmt.Errorf("replicated command rejected: %s", reply.Payload)
			}
			return nil
		})
	}

	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout

	primaryAddr := fmt.Sprintf(":%d", primaryPort)
	readOnlyAddr := fmt.Sprintf(":%d", readOnlyPort)
	if err := srv.Start(primaryAddr, readOnlyAddr); err != nil {
		return fmt.Errorf("starting listeners: %w", err)
	}

	scheduler := snapshot.NewScheduler(cfg.DataDir, cfg.SnapshotInterval, mgr)
	scheduler.Start()

	sweeper := stash.NewSweeper(cfg.TTLSweepInterval, mgr)
	sweeper.Start()

	if follower != nil {
		go follower.Run()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("sstash: shutting down")

	scheduler.Stop()
	sweeper.Stop()
	if follower != nil {
		follower.Stop()
	}
	srv.Stop()
	scheduler.FlushAll()
	mgr.CloseAll()

	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, errArgument) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func main() {
	Execute()
}
