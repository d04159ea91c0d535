package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	initLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "highlight":
		err = runHighlight(ctx, args, os.Stdout)
	case "capture":
		err = runCapture(ctx, args, os.Stdout)
	case "list":
		err = runList(args, os.Stdout)
	case "import":
		err = runImport(args, os.Stdout)
	case "export":
		err = runExport(args, os.Stdout)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "threadmark: %v\n", err)
		os.Exit(1)
	}
}

// initLogging sends the global logger to stderr at THREADMARK_LOG_LEVEL
// (info by default).
func initLogging() {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(os.Getenv("THREADMARK_LOG_LEVEL")); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

func usage() {
	fmt.Fprintf(os.Stderr, `threadmark - text anchors and highlights for chat threads

Usage:
  threadmark <command> [flags]

Commands:
  serve      Run the HTTP API
  highlight  Apply stored bookmarks to a document and print the result
  capture    Build an anchor from a span of a document's text
  list       List or search stored bookmarks
  import     Import bookmarks from a YAML archive
  export     Export all bookmarks as a YAML archive
  help       Show this help

Every command accepts -config to point at a TOML file
(default ~/.config/threadmark/config.toml).
`)
}
