// Package main provides the terminal dashboard entry point for riskforge.
package main

import (
	"flag"
	"fmt"
	"os"

	"riskforge/internal/tui"
)

var (
	version = "dev"
)

func main() {
	var (
		showVersion bool
		serverURL   string
		apiKey      string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.StringVar(&serverURL, "server", "http://localhost:8081", "riskforge analyst API URL")
	flag.StringVar(&serverURL, "s", "http://localhost:8081", "riskforge analyst API URL (shorthand)")
	flag.StringVar(&apiKey, "api-key", os.Getenv("RISKFORGE_API_KEY"), "API key for authenticated deployments")
	flag.Parse()

	if showVersion {
		fmt.Printf("riskforge-tui %s\n", version)
		os.Exit(0)
	}

	fmt.Println("Starting riskforge dashboard...")
	fmt.Printf("Connecting to: %s\n", serverURL)

	if err := tui.Run(serverURL, apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
