// Package cmd implements the suitekit command line: bring a declared
// resource set up for local development, validate it, print build info.
package cmd

import "github.com/spf13/cobra"

type Commander interface {
	Command() *cobra.Command // command instance
}
