package cli

import (
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/pixperk/printmesh/pkg/printer"
	"github.com/pixperk/printmesh/pkg/transport"
)

var (
	printerListen string
	minDelay      time.Duration
	maxDelay      time.Duration
)

var printerCmd = &cobra.Command{
	Use:   "printer",
	Short: "Start the shared print service",
	Long: `Start the dumb print server the mesh competes for. It applies a
random per-job delay and returns a confirmation; it performs no
coordination of its own.`,
	RunE: runPrinter,
}

func init() {
	rootCmd.AddCommand(printerCmd)

	printerCmd.Flags().StringVar(&printerListen, "listen", "localhost:50051", "Bind address for the print service")
	printerCmd.Flags().DurationVar(&minDelay, "min-delay", 2*time.Second, "Minimum simulated print delay")
	printerCmd.Flags().DurationVar(&maxDelay, "max-delay", 3*time.Second, "Maximum simulated print delay")
}

func runPrinter(cmd *cobra.Command, args []string) error {
	logger := hclog.New(&hclog.LoggerOptions{Name: "printmesh"})

	lis, err := net.Listen("tcp", printerListen)
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer()
	transport.RegisterPrintingServer(grpcServer, printer.NewService(printer.Config{
		MinDelay: minDelay,
		MaxDelay: maxDelay,
	}, logger))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("print service listening", "addr", lis.Addr().String())
		errCh <- grpcServer.Serve(lis)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		grpcServer.GracefulStop()
		return nil
	}
}
