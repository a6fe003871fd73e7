// Package main is the single-binary entrypoint for slideforge.
package main

import "github.com/slideforge/slideforge/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
