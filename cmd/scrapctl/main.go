// Package main is the scrapctl operator tool.
package main

import (
	"fmt"
	"os"

	"github.com/ScrapCrafters/scrap_layer/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
