// Command sigvalidate validates advanced electronic signatures over the
// long term.
//
// Usage:
//
//	sigvalidate <command> [flags] <args>
//
// Commands:
//
//	verify   Validate the signatures of an evidence bundle
//	version  Show version information
//
// Examples:
//
//	# Validate offline with the configured trust store
//	sigvalidate verify --config sigvalidate.yaml bundle.yaml
//
//	# Fetch missing evidence and print JSON
//	sigvalidate verify --config sigvalidate.yaml --online --format json bundle.yaml
package main

import (
	"os"

	"github.com/georgepadayatti/sigvalidate/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/sigvalidate
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args[1:])
}
