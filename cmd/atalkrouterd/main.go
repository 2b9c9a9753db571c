package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/wesleywu/atalk-router/internal/config"
	"github.com/wesleywu/atalk-router/internal/daemon"
	"github.com/wesleywu/atalk-router/internal/logger"
)

var (
	version = "0.1.0"

	silentMode  bool
	verboseMode bool
	configFile  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "atalkrouterd",
		Short: "AppleTalk internet router",
		Long:  `A multi-port AppleTalk internet router: RTMP routing table, ZIP zone information, and NBP/Echo control-plane services.`,
		Run:   runDaemon,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run:   showVersion,
	}

	testConfigCmd := &cobra.Command{
		Use:   "test-config",
		Short: "Load and validate the configuration file without starting the router",
		Run:   testConfiguration,
	}

	rootCmd.PersistentFlags().BoolVarP(&silentMode, "silent", "s", false, "silent mode (error level logging only)")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "verbose mode (debug level logging)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to the router's JSON configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(testConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func logLevel() string {
	switch {
	case verboseMode:
		return "debug"
	case silentMode:
		return "error"
	default:
		return "info"
	}
}

func runDaemon(_ *cobra.Command, _ []string) {
	log := logger.New(logLevel())

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	sm, err := daemon.NewServiceManager(cfg, log)
	if err != nil {
		log.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	if err := sm.Start(); err != nil {
		log.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	log.Info("atalkrouterd started", "version", version, "ports", len(cfg.Ports))

	if err := sm.Wait(); err != nil {
		log.Error("router stopped with error", "error", err)
		os.Exit(1)
	}
}

func showVersion(_ *cobra.Command, _ []string) {
	fmt.Printf("atalkrouterd v%s\n", version)
	fmt.Printf("Runtime: %s\n", runtime.Version())
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func testConfiguration(_ *cobra.Command, _ []string) {
	log := logger.New(logLevel())

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config loaded and validated")

	sm, err := daemon.NewServiceManager(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build router from config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("built router %q with %d port(s)\n", sm.Router().String(), len(sm.Router().Ports()))
	fmt.Println("ok")
}
