// Command pacsd runs the PACS server process: it loads one or more
// configuration files, builds a server/pacsd.ServerContext, and serves
// until interrupted. Flag parsing and signal handling follow the
// teacher's server/camlistored layout (a thin main wrapping
// serverconfig.Load and a handleSignals goroutine), with cobra/pflag
// standing in for the teacher's bare flag package.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pacsd/pkg/jsonconfig"
	"pacsd/pkg/logging"
	"pacsd/pkg/osutil"
	"pacsd/pkg/serverconfig"
	pacsdserver "pacsd/server/pacsd"
)

var (
	configFiles []string
	devLogging  bool
)

func main() {
	root := &cobra.Command{
		Use:           "pacsd",
		Short:         "DICOM PACS server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringArrayVarP(&configFiles, "config", "c", nil,
		"configuration file (may be repeated; later files override earlier ones)")
	root.Flags().BoolVar(&devLogging, "dev", false,
		"use human-readable development logging instead of structured JSON")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pacsd:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if devLogging {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("building development logger: %w", err)
		}
		logging.Configure(l)
	}
	defer logging.Sync()

	cfg, err := loadConfig(configFiles)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	sc, err := pacsdserver.New(cfg)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	return sc.Run(ctx)
}

// loadConfig reads and merges every configured file in order, falling back
// to serverconfig.Default() when none are given, so pacsd runs out of the
// box against an in-memory index and the default AET/ports (spec.md §6).
func loadConfig(paths []string) (serverconfig.Config, error) {
	if len(paths) == 0 {
		return serverconfig.Default(), nil
	}
	merged := jsonconfig.Obj{}
	for _, p := range paths {
		obj, err := jsonconfig.ReadFile(p)
		if err != nil {
			return serverconfig.Config{}, fmt.Errorf("reading %s: %w", p, err)
		}
		merged = jsonconfig.Merge(merged, obj)
	}
	return serverconfig.Load(merged)
}

// handleSignals mirrors the teacher's server/camlistored handleSignals: a
// SIGHUP re-execs the process in place, a SIGINT/SIGTERM cancels ctx and
// gives Run a fixed window to shut down cleanly before the process exits
// uncleanly.
func handleSignals(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range c {
		switch sig {
		case syscall.SIGHUP:
			logging.Infof("pacsd: SIGHUP received, restarting")
			if err := osutil.RestartProcess(); err != nil {
				logging.Fatalf("pacsd: restart failed: %v", err)
			}
		default:
			logging.Infof("pacsd: %v received, shutting down", sig)
			cancel()
			go func() {
				time.Sleep(10 * time.Second)
				logging.Fatalf("pacsd: timed out shutting down")
			}()
			return
		}
	}
}
