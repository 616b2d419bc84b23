// Command nest-basic is the basic front-end spec §6 describes: install,
// uninstall, upgrade, pull, search, and list — each defined as a fixed
// sequence of advanced operations against @root, with no group or
// requirement-level control exposed.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/raven-os/nest/archivex"
	"github.com/raven-os/nest/config"
	"github.com/raven-os/nest/core"
	"github.com/raven-os/nest/fetchx"
	"github.com/raven-os/nest/nestlog"
	"github.com/raven-os/nest/pkgid"
	"github.com/raven-os/nest/plan"
	"github.com/raven-os/nest/txn"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "nest-basic",
		Short:         "the nest package manager (basic front-end)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to nest.toml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInstallCmd(),
		newUninstallCmd(),
		newUpgradeCmd(),
		newPullCmd(),
		newSearchCmd(),
		newListCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nest-basic:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("NEST_CONFIG"); v != "" {
		return v
	}
	return "/etc/nest/nest.toml"
}

func openCore() (*core.Core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logs := nestlog.New(os.Stdout, os.Stderr, verbose)
	fetcher := fetchx.NewHTTPFetcher()
	return core.Open(cfg, fetcher, archivex.TarGzArchiver{}, fetcher, logs)
}

// printPlan shows the executed plan's steps in deterministic, alphabetical
// order for confirmation output, independent of diff-assigned step order.
func printPlan(co *core.Core, p *plan.Plan) {
	if p.Empty() {
		co.Log.Printf("(no changes)")
		return
	}
	for _, s := range txn.SortedSteps(p) {
		co.Log.Printf("%s", s)
	}
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <name#predicate>...",
		Short: "install one or more packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()

			reqs, err := parseTargets(args)
			if err != nil {
				return err
			}
			p, err := co.Install(context.Background(), reqs)
			if p != nil {
				printPlan(co, p)
			}
			return err
		},
	}
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name>...",
		Short: "uninstall one or more packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			p, err := co.Uninstall(context.Background(), args)
			if p != nil {
				printPlan(co, p)
			}
			return err
		},
	}
}

func newUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade [name...]",
		Short: "upgrade one, several, or (with no argument) every installed package",
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			p, err := co.Upgrade(context.Background(), args)
			if p != nil {
				printPlan(co, p)
			}
			return err
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "pull every configured repository's index",
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			for name, err := range co.PullAll(context.Background()) {
				if err != nil {
					co.Log.Errorf("pulling %s: %v", name, err)
				}
			}
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <name>",
		Short: "list every available version of a package across configured repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			ids, err := co.Cache.Query(args[0], pkgid.Any(), co.Config.RepositoriesOrder)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every installed package",
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			manifest, err := co.Installed()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(manifest.Packages))
			for name := range manifest.Packages {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Println(manifest.Packages[name].ID)
			}
			return nil
		},
	}
}

func parseTargets(args []string) (map[string]pkgid.Requirement, error) {
	out := make(map[string]pkgid.Requirement, len(args))
	for _, a := range args {
		name, predicate := splitTarget(a)
		req, err := pkgid.NewRequirement(predicate)
		if err != nil {
			return nil, err
		}
		out[name] = req
	}
	return out, nil
}

// splitTarget splits "category/name#predicate" into its name and predicate
// parts; a target with no '#' is taken to mean "any version".
func splitTarget(s string) (name, predicate string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '#' {
			return s[:i], s[i+1:]
		}
	}
	return s, "*"
}
