package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/bronystylecrazy/suitekit/config"
	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/bronystylecrazy/suitekit/testkit"
	"github.com/spf13/cobra"
)

type CheckCommand struct {
	root  *Root
	kinds bool
}

func NewCheckCommand(root *Root) *CheckCommand {
	return &CheckCommand{root: root}
}

func (s *CheckCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and list resources in start order",
		Args:  cobra.NoArgs,
		RunE:  s.Run,
	}
	cmd.Flags().BoolVar(&s.kinds, "kinds", false, "list the built-in resource kinds instead")
	return cmd
}

func (s *CheckCommand) Run(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	catalog := testkit.NewCatalog()
	if s.kinds {
		for _, kind := range catalog.Kinds() {
			fmt.Fprintln(out, kind)
		}
		return nil
	}

	cfg, err := config.Load(s.root.ConfigPath())
	if err != nil {
		return err
	}
	reg, err := cfg.Registry(catalog)
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		return ErrNoResources
	}

	kinds := make(map[string]string, len(cfg.Resources))
	for _, r := range cfg.Resources {
		kinds[r.Key] = r.Kind
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKEY\tKIND\tSCOPE\tSTART TIMEOUT\tSTOP TIMEOUT")
	for i, d := range reg.Descriptors() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			d.Key,
			kinds[d.Key],
			d.Scope,
			timeoutOr(d.StartTimeout, cfg.Suite.StartTimeout),
			timeoutOr(d.StopTimeout, cfg.Suite.StopTimeout),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	suiteCount := len(reg.Descriptors(resource.ScopeSuite))
	fmt.Fprintf(out, "\n%d resource(s): %d suite, %d class\n", reg.Len(), suiteCount, reg.Len()-suiteCount)
	return nil
}
