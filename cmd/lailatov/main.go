package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/lailatov/runner/internal/config"
	"github.com/lailatov/runner/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	case "version":
		fmt.Println(server.Version)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  lailatov serve [--config <runner.yaml>] [--addr <host:port>]")
	fmt.Fprintln(os.Stderr, "  lailatov version")
}

func serve(args []string) {
	var configPath string
	var addr string
	var debug bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a file path")
				os.Exit(1)
			}
			configPath = args[i]
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires host:port")
				os.Exit(1)
			}
			addr = args[i]
		case "--debug":
			debug = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag %q\n", args[i])
			usage()
			os.Exit(1)
		}
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lailatov: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if addr != "" {
		host, port, err := splitAddr(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lailatov: %v\n", err)
			os.Exit(1)
		}
		cfg.Host = host
		cfg.Port = port
	}

	level := hclog.Info
	if debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "lailatov",
		Level:      level,
		JSONFormat: true,
	})

	srv := server.New(cfg, logger)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "lailatov: %v\n", err)
		os.Exit(1)
	}
}
