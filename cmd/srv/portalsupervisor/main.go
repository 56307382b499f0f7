package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/dapi-tools/portal-supervisor/pkg/config"
	"github.com/dapi-tools/portal-supervisor/pkg/logging"
	"github.com/dapi-tools/portal-supervisor/pkg/runner"
)

type flagOptions struct {
	ConfigFile string `long:"config" short:"c" description:"path to the supervisor configuration file" required:"true"`
	Validate   bool   `long:"validate" description:"validate the configuration file and exit"`
	LogLevel   string `long:"log-level" description:"override the configured log level (debug, info, warn, error)"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		if err := config.ValidateConfigFile(opts.ConfigFile); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	logLevel := opts.LogLevel
	if logLevel == "" {
		// The configured level is needed before the logger exists
		cfg, err := config.LoadConfigFromFile(opts.ConfigFile)
		if err != nil {
			fmt.Printf("Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		logLevel = cfg.Supervisor.LogLevel
	}

	zapLogger, err := logging.NewZapLogger(logging.ZapConfig{Level: logLevel})
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logPrefix("portal-supervisor"), logging.LogFuncs{
		Debugf: zapLogger.Debugf,
		Infof:  zapLogger.Infof,
		Warnf:  zapLogger.Warnf,
		Errorf: zapLogger.Errorf,
	})

	if err := runner.Run(opts.ConfigFile, logger); err != nil {
		logger.Errorf("Supervisor runner failed: %v", err)
		os.Exit(1)
	}
}
