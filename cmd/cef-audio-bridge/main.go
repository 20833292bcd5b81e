package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/qieqieplus/cef-audio-bridge/pkg/config"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "server":
		runServer(os.Args[2:])
	case "capture":
		runCapture(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  server    Start the capture pipeline with the HTTP/WebSocket monitor
  capture   Capture one source for a fixed duration and write raw f32le audio

Run '%s <command> -h' for more information on a command.
`, os.Args[0], os.Args[0])
}

// loadConfig parses the shared options plus any registered by extra, and
// initializes logging before anything can call Fatal.
func loadConfig(name, usage string, args []string, extra func(fs *flag.FlagSet)) *config.Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s %s [options]\n\n%s\n\nOptions:\n", os.Args[0], name, usage)
		fs.PrintDefaults()
	}
	if extra != nil {
		extra(fs)
	}

	cfg, err := config.LoadFrom(fs, args, os.Getenv)
	if err != nil {
		log.Init("info")
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Init(cfg.LogLevel)
	return cfg
}

func runServer(args []string) {
	cfg := loadConfig("server", "Starts the capture pipeline and the HTTP/WebSocket monitor.", args, nil)
	startServer(cfg)
}

func runCapture(args []string) {
	var opts captureOptions
	cfg := loadConfig("capture", "Captures one source and writes interleaved f32le at 48 kHz stereo.", args,
		func(fs *flag.FlagSet) {
			fs.StringVar(&opts.output, "out", "capture.f32le", "Output file")
			fs.DurationVar(&opts.duration, "duration", 0, "Capture duration (0 runs until interrupted)")
			fs.StringVar(&opts.stats, "stats", "", "Write final statistics as JSON to this file")
		})
	if err := startCapture(cfg, opts); err != nil {
		log.Fatalf("Capture failed: %v", err)
	}
}
