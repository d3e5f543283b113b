package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ecatforge/ecatd/pkg/config"
	"github.com/ecatforge/ecatd/pkg/drivers"
	_ "github.com/ecatforge/ecatd/pkg/drivers/all"
	"github.com/ecatforge/ecatd/pkg/fieldbus"
	"github.com/ecatforge/ecatd/pkg/service"
)

const version = "0.1.0"

var (
	flagConfig    string
	flagInterface string
	flagPort      uint16
	flagDriver    string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:          "ecatd",
	Short:        "EtherCAT control service",
	Long:         "ecatd drives an EtherCAT bus at a fixed cycle period and exposes it to remote operators over a binary UDP protocol.",
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "/etc/ecatd/ecatd.conf", "configuration file")
	rootCmd.Flags().StringVarP(&flagInterface, "interface", "i", "", "override the bus interface")
	rootCmd.Flags().Uint16VarP(&flagPort, "port", "p", 0, "override the control port")
	rootCmd.Flags().StringVarP(&flagDriver, "driver", "d", "", "override the bus driver backend")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func newLogger(level string, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose || strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func run(cmd *cobra.Command, args []string) error {
	logger := newLogger("", flagVerbose)
	slog.SetDefault(logger)

	cfg, err := config.Load(flagConfig, logger)
	if err != nil {
		return fmt.Errorf("load configuration : %w", err)
	}
	logger = newLogger(cfg.Logging.Level, flagVerbose)
	slog.SetDefault(logger)

	if flagInterface != "" {
		logger.Info("interface override", "interface", flagInterface)
		cfg.Network.Interface = flagInterface
	}
	if flagPort != 0 {
		logger.Info("port override", "port", flagPort)
		cfg.Security.Port = flagPort
	}
	if flagDriver != "" {
		logger.Info("driver override", "driver", flagDriver)
		cfg.Network.Driver = flagDriver
	}

	if os.Geteuid() == 0 {
		logger.Warn("running as root, this may be required for raw bus access")
	}

	driver, err := drivers.NewDriver(cfg.Network.Driver, cfg.Network.Channel)
	if err != nil {
		return err
	}
	master := fieldbus.NewMaster(driver, logger)
	svc, err := service.New(cfg, master, logger)
	if err != nil {
		return err
	}

	signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		_ = svc.Close()
		return fmt.Errorf("start service : %w", err)
	}
	logger.Info("ecatd running", "version", version)

	<-ctx.Done()
	logger.Info("shutdown requested")
	svc.Stop()
	if err := svc.Close(); err != nil {
		logger.Warn("cleanup", "err", err)
	}
	logger.Info("ecatd stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
