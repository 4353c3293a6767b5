package main

import (
	"fmt"
	"os"

	"github.com/bronystylecrazy/suitekit/cmd"
)

func main() {
	if err := cmd.New().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "suitekit:", err)
		os.Exit(1)
	}
}
