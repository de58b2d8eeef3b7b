// Package main is the depthcapture command itself.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/pcreg/depthcapture/capture"
	"github.com/pcreg/depthcapture/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		if !errors.Is(err, capture.ErrNoDepthStream) {
			//nolint:errcheck
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
