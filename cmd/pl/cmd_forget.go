package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdForget(args []string) int {
	flags := flag.NewFlagSet("forget", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if err := a.offsets.Forget(); err != nil {
		fmt.Fprintf(os.Stderr, "pl: forget: %v\n", err)
		return 1
	}
	fmt.Println("persisted offset cleared")
	return 0
}
