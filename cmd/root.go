package cmd

import (
	"fmt"
	"strings"

	"github.com/bronystylecrazy/suitekit/build"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "suitekit.toml"

type Root struct {
	*cobra.Command

	configPath string
}

// New returns the root command with every built-in subcommand registered.
func New() *Root {
	r := &Root{
		Command: &cobra.Command{
			Use:           build.Name,
			Short:         "Start and inspect test resources declared in a config file",
			SilenceUsage:  true,
			SilenceErrors: true,
		},
	}
	r.PersistentFlags().StringVarP(&r.configPath, "config", "c", defaultConfigPath, "resource config file (toml, yaml or json)")

	_ = r.Register(
		NewUpCommand(r),
		NewCheckCommand(r),
		NewVersionCommand(),
	)
	return r
}

// ConfigPath returns the value of the --config flag.
func (r *Root) ConfigPath() string { return r.configPath }

func (r *Root) Register(commands ...Commander) error {
	for _, command := range commands {
		if err := r.RegisterOne(command); err != nil {
			return err
		}
	}
	return nil
}

func (r *Root) RegisterOne(c Commander) error {
	if r == nil || r.Command == nil {
		return fmt.Errorf("root command is nil")
	}
	cmd := c.Command()
	parts := strings.Fields(cmd.Use)
	if len(parts) == 0 {
		return fmt.Errorf("command use is empty")
	}
	for _, child := range r.Commands() {
		if child.Name() == parts[0] {
			return fmt.Errorf("command %q already registered", parts[0])
		}
	}
	r.AddCommand(cmd)
	return nil
}
