// Package main provides the catasto command-line tool.
package main

import (
	"os"

	"github.com/opencatasto/catasto/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
