package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/app"
	"github.com/matheus3301/chatterm/internal/config"
	"github.com/matheus3301/chatterm/internal/profile"
	"github.com/matheus3301/chatterm/internal/tui"
)

const lifecycleTimeout = 15 * time.Second

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	verboseFlag := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfgPath := profile.ConfigPath()
	cfg, err := config.Resolve(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\nset it in %s or the CHATTERM_* environment\n", err, cfgPath)
		os.Exit(1)
	}

	var (
		ctrl   *app.Controller
		logger *zap.Logger
	)
	fxApp := fx.New(
		app.Module(app.Params{ProfileName: profileName, Config: cfg, Verbose: *verboseFlag}),
		fx.Populate(&ctrl, &logger),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ui := tui.New(ctrl, profileName, logger)
	go func() {
		<-ctx.Done()
		ui.Stop()
	}()

	runErr := ui.Run(ctx)
	stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
