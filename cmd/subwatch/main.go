package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "configs/subwatch.yaml"

func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   defaultConfigPath,
			Usage:   "path to config file",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "log at debug level",
		},
		&cli.StringFlag{
			Name:  "addr",
			Usage: "control API listen address",
		},
		&cli.StringFlag{
			Name:  "proxy-addr",
			Usage: "forward proxy listen address",
		},
		&cli.BoolFlag{
			Name:  "no-proxy",
			Usage: "do not start the forward proxy",
		},
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:   "subwatch",
		Usage:  "watch judge submissions and notify when a verdict is ready",
		Flags:  rootFlags(),
		Action: runDaemon,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the daemon (default)",
				Action: runDaemon,
			},
			{
				Name:   "status",
				Usage:  "print the last verdict reported by a running daemon",
				Action: printStatus,
			},
		},
		UseShortOptionHandling: true,
	}
}

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "subwatch: %v\n", err)
		os.Exit(1)
	}
}

// configFromFlags loads the config file and applies command line overrides.
// The default config path may be absent.
func configFromFlags(cmd *cli.Command) (*AppConfig, error) {
	cfg, err := loadAppConfig(cmd.String("config"), !cmd.IsSet("config"))
	if err != nil {
		return nil, fmt.Errorf("load app config failed: %w", err)
	}
	if cmd.Bool("verbose") {
		cfg.Logger.Level = "debug"
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if addr := cmd.String("proxy-addr"); addr != "" {
		cfg.Proxy.Addr = addr
	}
	if cmd.Bool("no-proxy") {
		cfg.Proxy.Disabled = true
	}
	return cfg, nil
}
