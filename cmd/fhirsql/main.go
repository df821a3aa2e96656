package main

import (
	"fmt"
	"os"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
