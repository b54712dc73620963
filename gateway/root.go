package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vfsgate/vfsgate/configuration"
	"github.com/vfsgate/vfsgate/internal/dcontext"
	"github.com/vfsgate/vfsgate/version"
)

var showVersion bool

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
}

// RootCmd is the main command for the 'vfsgate' binary.
var RootCmd = &cobra.Command{
	Use:   "vfsgate",
	Short: "`vfsgate`",
	Long:  "`vfsgate` is a multi-backend storage gateway.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

// ServeCmd is the cobra command that runs the gateway server.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` runs the storage gateway",
	Long:  "`serve` runs the storage gateway from the given configuration.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		ctx := context.Background()
		ctx, err = ConfigureLogging(ctx, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to configure logging: %v\n", err)
			os.Exit(1)
		}

		g, err := NewGateway(ctx, config)
		if err != nil {
			dcontext.GetLogger(ctx).Errorf("%v", err)
			os.Exit(1)
		}

		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-done
			shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if err := g.Shutdown(shutdownCtx); err != nil {
				dcontext.GetLogger(ctx).Errorf("shutdown: %v", err)
			}
		}()

		if err := g.ListenAndServe(ctx); err != nil {
			dcontext.GetLogger(ctx).Errorf("%v", err)
			os.Exit(1)
		}
	},
}

func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("VFSGATE_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("VFSGATE_CONFIGURATION_PATH")
	}
	if configurationPath == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", configurationPath, err)
	}
	return config, nil
}
