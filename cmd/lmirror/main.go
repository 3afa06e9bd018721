package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

func main() {
	var exitCode int

	a, args, err := newApp(os.Args[1:], afero.NewOsFs(), os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(exitCodeConfigFailure)
	}

	defer func() {
		a.log.Info("lmirror exited", "code", exitCode)
		os.Exit(exitCode)
	}()

	if len(args) == 0 {
		a.globalFlags.Usage()
		exitCode = exitCodeConfigFailure

		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	doneChan := make(chan int, 1)

	go func() {
		doneChan <- a.dispatch(ctx, args[0], args[1:])
	}()

	select {
	case code := <-doneChan:
		exitCode = code

		return

	case <-sigChan:
		a.log.Warn("received interrupt signal; shutting down (waiting up to 10s)...", "op", args[0])
		cancel()

		select {
		case code := <-doneChan:
			exitCode = code

			return

		case <-time.After(exitTimeout):
			a.log.Error("timed out while waiting for program exit; killing...",
				"op", args[0],
				"error-type", "fatal",
			)
			exitCode = exitCodeFailure

			return
		}
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) (retExitCode int) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("internal panic recovered", "op", cmd, "error", r, "error-type", "fatal")
			debug.PrintStack()
			retExitCode = exitCodeFailure
		}
	}()

	var run func(context.Context, []string) error

	switch cmd {
	case "help":
		run = a.runHelp
	case "init":
		run = a.runInit
	case "start-change":
		run = a.runStartChange
	case "cancel-change":
		run = a.runCancelChange
	case "finish-change":
		run = a.runFinishChange
	case "mirror":
		run = a.runMirror
	case "receive":
		run = a.runReceive
	case "serve":
		run = a.runServe
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n\n", cmd)
		a.globalFlags.Usage()

		return exitCodeConfigFailure
	}

	if err := run(ctx, args); err != nil {
		a.log.Error("command failed", "op", cmd, "error", err, "error-type", "fatal")

		return exitCodeFor(err)
	}

	return exitCodeSuccess
}
