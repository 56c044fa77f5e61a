package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/retr0680/portbridge/pkg/portbridge"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose    bool
	quiet      bool
	configPath string
	backend    string
	loadArgs   []string
	loadDriver string
)

func init() {
	pflag.BoolVarP(&verbose, "verbose", "v", false, "show verbose logs (useful for debugging serial)")
	pflag.BoolVarP(&quiet, "quiet", "q", false, "log notifications instead of showing them on the desktop")
	pflag.StringVarP(&configPath, "config", "c", "", "path to the configuration file (default ./config.yaml)")
	pflag.StringVar(&backend, "backend", "", "audio server backend to use (pulse or memory), overrides the config file")
	pflag.StringArrayVarP(&loadArgs, "load", "l", nil, `open an extra port with these module arguments, e.g. "source_name=mic0 rate=48000"`)
	pflag.StringVar(&loadDriver, "driver", portbridge.DefaultPortDriver, "server module used for ports opened with --load")
	pflag.Parse()
}

func main() {
	// first we need a logger
	logger, err := portbridge.NewLogger(buildType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	options := portbridge.Options{
		ConfigPath: configPath,
		Verbose:    verbose,
		Quiet:      quiet,
	}
	for _, args := range loadArgs {
		options.ExtraPorts = append(options.ExtraPorts, portbridge.PortConfig{Driver: loadDriver, Args: args})
	}

	b, err := portbridge.NewBridge(logger, options)
	if err != nil {
		named.Fatalw("Failed to create portbridge object", "error", err)
	}

	if backendFlag := pflag.Lookup("backend"); backendFlag != nil && backendFlag.Changed {
		if err := b.Config().Viper().BindPFlag("backend", backendFlag); err != nil {
			named.Fatalw("Failed to bind backend flag", "error", err)
		}
	}

	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		b.SetVersion(fmt.Sprintf("Version %s-%s", buildType, identifier))
	}

	if err := b.Initialize(); err != nil {
		named.Fatalw("Failed to initialize portbridge", "error", err)
	}
}
