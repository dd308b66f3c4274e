// xdpcount attaches a counting probe to the XDP hook of an interface and
// exposes its counters. Every packet bumps each declared counter by one and
// gets the configured verdict.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/tcassar-diss/xdpcount/bpf"
	"github.com/tcassar-diss/xdpcount/frontend"
	"github.com/tcassar-diss/xdpcount/probe"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	configPath string
	verbose    bool
)

func main() {
	app := &cli.App{
		Name:  "xdpcount",
		Usage: "count packets on an XDP hook",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a TOML config; built-in defaults are used when unset",
				Destination: &configPath,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "development logging, including every counter poll",
				Destination: &verbose,
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			inspectCommand(),
			simulateCommand(),
			selftestCommand(),
			licenseCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func initLogger() (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)

	if verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get zap logger: %w", err)
	}

	return l.Sugar(), nil
}

func loadConfig() (*frontend.Config, error) {
	if configPath == "" {
		return frontend.DefaultConfig(), nil
	}

	return frontend.LoadConfig(configPath)
}

func runCommand() *cli.Command {
	var (
		iface string
		mode  string
	)

	return &cli.Command{
		Name:      "run",
		Usage:     "load the probe, attach it and serve its counters until interrupted",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "iface",
				Aliases:     []string{"i"},
				Usage:       "interface to attach to; overrides the config",
				Destination: &iface,
			},
			&cli.StringFlag{
				Name:        "mode",
				Usage:       "XDP attach mode (generic, driver, offload); overrides the config",
				Destination: &mode,
			},
		},
		Action: func(cCtx *cli.Context) error {
			logger, err := initLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
			}

			if iface != "" {
				cfg.Interface = iface
			}

			if mode != "" {
				cfg.Mode = bpf.Mode(mode)
			}

			if err := frontend.Run(cCtx.Context, logger, cfg); err != nil {
				return cli.Exit(
					fmt.Sprintf("xdpcount encountered an error it couldn't recover from: %v", err),
					2,
				)
			}

			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	var perCPU bool

	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the counters of a running probe from its pinned map",
		ArgsUsage: "[counter...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "per-cpu",
				Usage:       "include the per-CPU slots of each counter",
				Destination: &perCPU,
			},
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
			}

			reports, err := frontend.Inspect(cfg, cCtx.Args().Slice(), perCPU)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to inspect counters: %v", err), 2)
			}

			return frontend.PrintJSON(os.Stdout, reports)
		},
	}
}

func simulateCommand() *cli.Command {
	var (
		packets uint
		workers int
	)

	return &cli.Command{
		Name:  "simulate",
		Usage: "run the probe on an in-process hook; needs no privileges",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:        "packets",
				Aliases:     []string{"n"},
				Value:       5,
				Usage:       "number of packets to deliver",
				Destination: &packets,
			},
			&cli.IntFlag{
				Name:        "workers",
				Value:       1,
				Usage:       "number of goroutines delivering packets concurrently",
				Destination: &workers,
			},
		},
		Action: func(cCtx *cli.Context) error {
			logger, err := initLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
			}

			res, err := frontend.Simulate(cCtx.Context, logger, cfg, int(packets), workers)
			if err != nil {
				return cli.Exit(fmt.Sprintf("simulation failed: %v", err), 2)
			}

			return frontend.PrintJSON(os.Stdout, res)
		},
	}
}

func selftestCommand() *cli.Command {
	var packets uint

	return &cli.Command{
		Name:  "selftest",
		Usage: "load the probe into the kernel and test-run it without attaching; needs root",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:        "packets",
				Aliases:     []string{"n"},
				Value:       5,
				Usage:       "number of test runs",
				Destination: &packets,
			},
		},
		Action: func(cCtx *cli.Context) error {
			logger, err := initLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
			}

			res, err := frontend.SelfTest(logger, cfg, uint32(packets))
			if err != nil {
				return cli.Exit(fmt.Sprintf("selftest failed: %v", err), 2)
			}

			return frontend.PrintJSON(os.Stdout, res)
		},
	}
}

func licenseCommand() *cli.Command {
	return &cli.Command{
		Name:  "license",
		Usage: "print the license tag the probe is built with and check it",
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
			}

			license := cfg.Probe.License
			if err := probe.ValidateLicense(license); err != nil {
				return cli.Exit(fmt.Sprintf("%q would be refused: %v", license, err), 1)
			}

			fmt.Println(license)

			return nil
		},
	}
}
