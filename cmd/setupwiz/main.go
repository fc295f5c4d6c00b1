package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := "run"
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "run":
		err = runWizard(ctx, os.Stdin, os.Stdout)
	case "serve":
		err = runServe(ctx)
	case "doctor":
		err = runDoctor(ctx, os.Stdout)
	case "history", "undo", "checkpoints", "operations":
		err = runInspect(ctx, cmd, os.Stdin, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'setupwiz --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`setupwiz - guided setup with undo, checkpoints and resume

USAGE:
    setupwiz [COMMAND] [FLAGS]

COMMANDS:
    run          Run the interactive wizard (default)
    serve        Serve the local authority to remote wizards
    doctor       Check the host and the authority
    history      List saved configuration versions
    undo         Revert the saved session to the previous version
    checkpoints  List checkpoints
    operations   List recorded operations

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./setupwiz.yaml)
    --yes            Answer yes to every confirmation

CONFIGURATION:
    Config file: ./setupwiz.yaml
    Environment: SETUPWIZ_* variables override config

EXAMPLES:
    setupwiz                                  # Start or resume the wizard
    setupwiz serve --config server.yaml       # Share state over HTTP
    SETUPWIZ_AUTHORITY_MODE=remote setupwiz   # Use a remote authority
    setupwiz doctor                           # Check prerequisites`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SETUPWIZ_CONFIG"); p != "" {
		return p
	}
	return "setupwiz.yaml"
}

func assumeYes() bool {
	return slices.Contains(os.Args[1:], "--yes") || slices.Contains(os.Args[1:], "-y")
}
