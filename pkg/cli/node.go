package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/pixperk/printmesh/pkg/node"
)

var (
	nodeID      uint64
	listenAddr  string
	peersFlag   string
	printerAddr string

	ackTimeout     time.Duration
	releaseTimeout time.Duration
	printTimeout   time.Duration

	minJobWait time.Duration
	maxJobWait time.Duration

	journalPath string
	metricsAddr string
	logLevel    string
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Start a mesh peer node",
	Long: `Start one peer of the mutual-exclusion mesh.

Examples:
  # three-node mesh on one host
  printmesh node --id=1 --listen=localhost:7001 --peers=2=localhost:7002,3=localhost:7003
  printmesh node --id=2 --listen=localhost:7002 --peers=1=localhost:7001,3=localhost:7003
  printmesh node --id=3 --listen=localhost:7003 --peers=1=localhost:7001,2=localhost:7002`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(nodeCmd)

	nodeCmd.Flags().Uint64Var(&nodeID, "id", 0, "Unique node id (nonzero, fixed for the run)")
	nodeCmd.Flags().StringVar(&listenAddr, "listen", "localhost:7001", "Bind address for the mesh service")
	nodeCmd.Flags().StringVar(&peersFlag, "peers", "", "Peer list as id=host:port, comma-separated")
	nodeCmd.Flags().StringVar(&printerAddr, "printer", "localhost:50051", "Print service address")

	nodeCmd.Flags().DurationVar(&ackTimeout, "ack-timeout", 120*time.Second, "Per-attempt wait for peer acknowledgements")
	nodeCmd.Flags().DurationVar(&releaseTimeout, "release-timeout", 5*time.Second, "Per-peer release notification timeout")
	nodeCmd.Flags().DurationVar(&printTimeout, "print-timeout", 15*time.Second, "Print service call timeout")

	nodeCmd.Flags().DurationVar(&minJobWait, "min-wait", 3*time.Second, "Minimum wait between generated print jobs (0 disables the generator)")
	nodeCmd.Flags().DurationVar(&maxJobWait, "max-wait", 7*time.Second, "Maximum wait between generated print jobs")

	nodeCmd.Flags().StringVar(&journalPath, "journal", "", "Path to a sqlite event journal (optional)")
	nodeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listener address (optional)")
	nodeCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	nodeCmd.MarkFlagRequired("id")
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "printmesh",
		Level: hclog.LevelFromString(logLevel),
	})

	peers, err := node.ParsePeers(peersFlag)
	if err != nil {
		return err
	}

	cfg := node.DefaultConfig(nodeID)
	cfg.ListenAddr = listenAddr
	cfg.Peers = peers
	cfg.PrinterAddr = printerAddr
	cfg.AckTimeout = ackTimeout
	cfg.ReleaseTimeout = releaseTimeout
	cfg.PrintTimeout = printTimeout
	cfg.MinJobWait = minJobWait
	cfg.MaxJobWait = maxJobWait
	cfg.JournalPath = journalPath
	cfg.MetricsAddr = metricsAddr
	cfg.Logger = logger

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	if err := n.Start(context.Background()); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	n.Stop()
	return nil
}
