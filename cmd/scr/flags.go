package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	ShowVersion bool
	Validate    bool
	NoDemo      bool
	DumpConfig  string
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config", getEnv("SCR_CONFIG", ""),
		"Path to configuration file (env: SCR_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", getEnv("SCR_CONFIG", ""),
		"Path to configuration file (shorthand)")
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Override the configured log level: debug, info, warn, error")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.NoDemo, "no-demo", false, "Do not register the demo components")
	fs.StringVar(&cfg.DumpConfig, "dump-config", "", "Write the effective configuration to this path and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "%s - service component runtime\n\nUsage: %s [options]\n\nOptions:\n", appName, appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := validateFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.LogLevel == "" {
		return nil
	}
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	switch cfg.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return nil
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
