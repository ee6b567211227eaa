package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/solenoidlabs/keel/internal/config"
	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/fix"
	"github.com/solenoidlabs/keel/internal/opheads"
	"github.com/solenoidlabs/keel/internal/repo"
	"github.com/solenoidlabs/keel/internal/rewrite"
)

func main() {
	app := &cli.App{
		Name:  "keel",
		Usage: "content-addressed operation history and commit rewriting",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "repo", Aliases: []string{"R"}, Value: ".", Usage: "repository root"},
			&cli.BoolFlag{Name: "verbose", Usage: "verbose logging"},
		},
		Commands: []*cli.Command{
			initCommand(),
			opCommand(),
			bookmarkCommand(),
			newCommand(),
			describeCommand(),
			abandonCommand(),
			fixCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "keel: %v\n", err)
		os.Exit(1)
	}
}

func buildLogger(c *cli.Context) (*zap.Logger, error) {
	if c.Bool("verbose") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func openRepo(c *cli.Context) (*repo.Repository, error) {
	logger, err := buildLogger(c)
	if err != nil {
		return nil, err
	}
	return repo.Open(c.String("repo"), logger)
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create a repository",
		Action: func(c *cli.Context) error {
			logger, err := buildLogger(c)
			if err != nil {
				return err
			}
			r, err := repo.Init(c.String("repo"), config.Default(), logger)
			if err != nil {
				return err
			}
			fmt.Printf("Initialized repository in %s\n", r.Root())
			return nil
		},
	}
}

func opCommand() *cli.Command {
	return &cli.Command{
		Name:  "op",
		Usage: "inspect and repair the operation log",
		Subcommands: []*cli.Command{
			{
				Name:  "log",
				Usage: "show the operation log",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "limit number of operations"},
				},
				Action: func(c *cli.Context) error {
					r, err := openRepo(c)
					if err != nil {
						return err
					}
					ops, err := r.OpLog(c.Int("limit"))
					if err != nil {
						return err
					}
					for _, op := range ops {
						fmt.Printf("%s  %s  %s\n",
							op.ID.Short(),
							op.Metadata.EndTime.Format("2006-01-02 15:04:05"),
							op.Metadata.Description)
					}
					return nil
				},
			},
			{
				Name:  "heads",
				Usage: "list current operation heads",
				Action: func(c *cli.Context) error {
					r, err := openRepo(c)
					if err != nil {
						return err
					}
					heads, err := r.OpHeads.Heads()
					if err != nil {
						return err
					}
					for _, h := range heads {
						fmt.Println(h)
					}
					if len(heads) > 1 {
						fmt.Fprintf(os.Stderr, "warning: %d divergent heads; the next command will reconcile\n", len(heads))
					}
					return nil
				},
			},
			{
				Name:      "abandon",
				Usage:     "remove operations from the log, reparenting descendants",
				ArgsUsage: "<operation-id>...",
				Action: func(c *cli.Context) error {
					r, err := openRepo(c)
					if err != nil {
						return err
					}
					var targets []core.OperationID
					for _, arg := range c.Args().Slice() {
						id, err := core.ParseOperationID(arg)
						if err != nil {
							return err
						}
						targets = append(targets, id)
					}
					n, err := opheads.AbandonOperations(r.Store, r.OpHeads, targets)
					if err != nil {
						return err
					}
					fmt.Printf("Abandoned %d operations, rewrote %d\n", len(targets), n)
					return nil
				},
			},
			{
				Name:  "recover",
				Usage: "rebuild the op-heads record by scanning all operations",
				Action: func(c *cli.Context) error {
					r, err := openRepo(c)
					if err != nil {
						return err
					}
					heads, err := opheads.RecoverHeads(r.Store, r.OpHeads)
					if err != nil {
						return err
					}
					fmt.Printf("Recovered %d heads\n", len(heads))
					return nil
				},
			},
		},
	}
}

func bookmarkCommand() *cli.Command {
	return &cli.Command{
		Name:  "bookmark",
		Usage: "manage bookmarks",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list bookmarks",
				Action: func(c *cli.Context) error {
					r, err := openRepo(c)
					if err != nil {
						return err
					}
					op, err := r.CurrentOperation(true)
					if err != nil {
						return err
					}
					view, err := r.Store.GetView(op.ViewID)
					if err != nil {
						return err
					}
					for name, target := range view.LocalBookmarks {
						if target.IsDivergent() {
							// Divergent bookmarks are surfaced with ??
							// until the user picks a side.
							fmt.Printf("%s??:", name)
							for _, id := range target.IDs {
								fmt.Printf(" %s", id.Short())
							}
							fmt.Println()
						} else {
							fmt.Printf("%s: %s\n", name, target.IDs[0].Short())
						}
					}
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "point a bookmark at a commit",
				ArgsUsage: "<name> <commit-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("usage: keel bookmark set <name> <commit-id>")
					}
					r, err := openRepo(c)
					if err != nil {
						return err
					}
					id, err := core.ParseCommitID(c.Args().Get(1))
					if err != nil {
						return err
					}
					tx, err := r.StartTransaction()
					if err != nil {
						return err
					}
					tx.View().SetLocalBookmark(c.Args().Get(0), core.NewRefTarget(id))
					return finish(tx, fmt.Sprintf("set bookmark %s", c.Args().Get(0)))
				},
			},
			{
				Name:      "delete",
				Usage:     "delete a bookmark",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("usage: keel bookmark delete <name>")
					}
					r, err := openRepo(c)
					if err != nil {
						return err
					}
					tx, err := r.StartTransaction()
					if err != nil {
						return err
					}
					tx.View().RemoveLocalBookmark(c.Args().Get(0))
					return finish(tx, fmt.Sprintf("delete bookmark %s", c.Args().Get(0)))
				},
			},
		},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "create a new empty commit on top of the working copy",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "commit description"},
		},
		Action: func(c *cli.Context) error {
			r, err := openRepo(c)
			if err != nil {
				return err
			}
			tx, err := r.StartTransaction()
			if err != nil {
				return err
			}
			wcID, ok := tx.View().WCCommitIDs[repo.DefaultWorkspace]
			if !ok {
				return fmt.Errorf("no working copy for workspace %q", repo.DefaultWorkspace)
			}
			wc, err := r.Store.GetCommit(wcID)
			if err != nil {
				return err
			}
			child, err := tx.NewCommit([]core.CommitID{wcID}, wc.Tree, c.String("message"))
			if err != nil {
				return err
			}
			tx.View().SetWCCommit(repo.DefaultWorkspace, child.ID)
			return finish(tx, "new commit")
		},
	}
}

func describeCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "change a commit's description",
		ArgsUsage: "<commit-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: keel describe <commit-id> -m <message>")
			}
			r, err := openRepo(c)
			if err != nil {
				return err
			}
			id, err := core.ParseCommitID(c.Args().Get(0))
			if err != nil {
				return err
			}
			tx, err := r.StartTransaction()
			if err != nil {
				return err
			}
			if _, err := rewrite.SetDescription(tx, id, c.String("message")); err != nil {
				return err
			}
			return finish(tx, fmt.Sprintf("describe commit %s", id.Short()))
		},
	}
}

func abandonCommand() *cli.Command {
	return &cli.Command{
		Name:      "abandon",
		Usage:     "abandon commits, reattaching descendants to their parents",
		ArgsUsage: "<commit-id>...",
		Action: func(c *cli.Context) error {
			r, err := openRepo(c)
			if err != nil {
				return err
			}
			var targets []core.CommitID
			for _, arg := range c.Args().Slice() {
				id, err := core.ParseCommitID(arg)
				if err != nil {
					return err
				}
				targets = append(targets, id)
			}
			tx, err := r.StartTransaction()
			if err != nil {
				return err
			}
			res, err := rewrite.AbandonCommits(tx, targets)
			if err != nil {
				return err
			}
			fmt.Printf("Abandoned %d commits\n", len(res.Abandoned))
			return finish(tx, fmt.Sprintf("abandon %d commits", len(res.Abandoned)))
		},
	}
}

func fixCommand() *cli.Command {
	return &cli.Command{
		Name:      "fix",
		Usage:     "run the configured fix tool over commits and their descendants",
		ArgsUsage: "<commit-id>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all-or-nothing", Usage: "abort on the first tool failure"},
		},
		Action: func(c *cli.Context) error {
			r, err := openRepo(c)
			if err != nil {
				return err
			}
			var roots []core.CommitID
			for _, arg := range c.Args().Slice() {
				id, err := core.ParseCommitID(arg)
				if err != nil {
					return err
				}
				roots = append(roots, id)
			}
			tx, err := r.StartTransaction()
			if err != nil {
				return err
			}
			summary, err := fix.Run(c.Context, tx, roots, fix.Options{
				Tool:         r.Config.Fix.Tool,
				Workers:      r.Config.Fix.Workers,
				AllOrNothing: c.Bool("all-or-nothing"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Fixed %d of %d commits", summary.FixedCommits, summary.CheckedCommits)
			if len(summary.Failures) > 0 {
				fmt.Printf(" (%d tool failures)", len(summary.Failures))
			}
			fmt.Println()
			return finish(tx, "fix commits")
		},
	}
}

func finish(tx *repo.Transaction, description string) error {
	id, changed, err := tx.Finish(description)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Println("Nothing changed.")
		return nil
	}
	fmt.Printf("Operation: %s\n", id.Short())
	return nil
}
