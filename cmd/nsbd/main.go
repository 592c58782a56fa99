// SPDX-License-Identifier: GPL-3.0-or-later

// Command nsbd runs the broker daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsb-ucsc/nsb-beta/config"
	"github.com/nsb-ucsc/nsb-beta/daemon"
)

// version is set at build time via -ldflags; the default "dev" just
// means "not a release build."
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("nsbd", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: nsbd [-version] <config_file>")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		fmt.Println("nsbd", version)
		return 0
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	d := daemon.New(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		log.Error("daemon exited with error", "error", err)
		return 1
	}
	return 0
}
