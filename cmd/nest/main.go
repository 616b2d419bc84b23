// Command nest is the advanced front-end: one subcommand per core
// operation (requirement add/remove/update, group create/delete,
// repository pull, graph, merge, log, reverse), per spec §6.
//
// Grounded on the teacher's cmd/dep layout, replacing its hand-rolled
// flag.FlagSet command interface with github.com/spf13/cobra — the CLI
// library the rest of the retrieval pack (cue-lang/cue, codenerd) uses
// for exactly this kind of subcommand tree.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

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
		Use:           "nest",
		Short:         "the nest package manager (advanced front-end)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to nest.toml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newRequirementCmd(),
		newGroupCmd(),
		newRepositoryCmd(),
		newGraphCmd(),
		newMergeCmd(),
		newLogCmd(),
		newReverseCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nest:", err)
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

func newRequirementCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "requirement", Short: "manage requirement edges"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <group> <name> <predicate>",
			Short: "add a static requirement to a group",
			Args:  cobra.ExactArgs(3),
			RunE: func(_ *cobra.Command, args []string) error {
				co, err := openCore()
				if err != nil {
					return err
				}
				defer co.Close()
				req, err := pkgid.NewRequirement(args[2])
				if err != nil {
					return err
				}
				p, err := co.RequirementAdd(context.Background(), args[0], args[1], req)
				if p != nil {
					printPlan(co, p)
				}
				return err
			},
		},
		&cobra.Command{
			Use:   "remove <group> <name>",
			Short: "remove a static requirement from a group",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				co, err := openCore()
				if err != nil {
					return err
				}
				defer co.Close()
				p, err := co.RequirementRemove(context.Background(), args[0], args[1])
				if p != nil {
					printPlan(co, p)
				}
				return err
			},
		},
		&cobra.Command{
			Use:   "update [name...]",
			Short: "re-derive the dependency subtree of the given packages",
			RunE: func(_ *cobra.Command, args []string) error {
				co, err := openCore()
				if err != nil {
					return err
				}
				defer co.Close()
				p, err := co.RequirementUpdate(context.Background(), args)
				if p != nil {
					printPlan(co, p)
				}
				return err
			},
		},
	)
	return cmd
}

func newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "manage groups"}
	var force bool
	create := &cobra.Command{
		Use:   "create <name> <parent>",
		Short: "create a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			return co.GroupCreate(args[0], args[1])
		},
	}
	remove := &cobra.Command{
		Use:   "delete <name>",
		Short: "delete a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			return co.GroupDelete(args[0], force)
		},
	}
	remove.Flags().BoolVar(&force, "force", false, "delete recursively even if non-empty")
	cmd.AddCommand(create, remove)
	return cmd
}

func newRepositoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "repository", Short: "manage repositories"}
	cmd.AddCommand(&cobra.Command{
		Use:   "pull [name]",
		Short: "pull one repository's index, or every configured repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			if len(args) == 1 {
				return co.PullRepository(context.Background(), args[0])
			}
			for name, err := range co.PullAll(context.Background()) {
				if err != nil {
					co.Log.Errorf("pulling %s: %v", name, err)
				}
			}
			return nil
		},
	})
	return cmd
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "print every resolved package in the current graph",
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			for _, n := range co.Current.Packages() {
				fmt.Println(n.Pkg)
			}
			return nil
		},
	}
}

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "commit the current graph again and log a merge entry (its plan is always empty)",
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			p, err := co.Engine.Merge(context.Background(), co.Current, co.Current.Clone(), "merge")
			if p != nil {
				printPlan(co, p)
			}
			return err
		},
	}
}

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "show the operation log",
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			entries, err := co.Engine.Log.Entries()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%d\t%s\t%s\n", e.ID, e.Timestamp.Format(time.RFC3339), e.Command)
			}
			return nil
		},
	}
}

func newReverseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reverse <id>",
		Short: "reverse the operation log back to the state right after operation id",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			co, err := openCore()
			if err != nil {
				return err
			}
			defer co.Close()
			var id uint64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid operation id %q", args[0])
			}
			return co.Reverse(context.Background(), id)
		},
	}
}
