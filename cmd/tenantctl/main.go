package main

import (
	"context"
	"fmt"
	"os"

	"github.com/platinummonkey/tenantguard/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand(cli.DefaultEnv())

	if err := rootCmd.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
