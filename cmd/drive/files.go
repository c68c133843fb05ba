package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whrgg/cloud-drive-project/internal/app"
	"github.com/whrgg/cloud-drive-project/internal/drive"
)

func printNodes(nodes []*drive.Node) {
	if len(nodes) == 0 {
		fmt.Println("Empty.")
		return
	}
	for _, n := range nodes {
		kind := "-"
		if n.IsDir {
			kind = "d"
		}
		star := " "
		if n.Starred {
			star = "*"
		}
		fmt.Printf("%s%s %8d  %12d  %s  %s\n", kind, star, n.ID, n.Size, n.UpdatedAt.Format("2006-01-02 15:04"), n.Name)
	}
}

func printPurge(r drive.PurgeReport) {
	fmt.Printf("Purged %d node(s), %d file(s), %d byte(s)\n", r.Nodes, r.Files, r.Bytes)
}

// idCommand builds a command taking a single node id.
func idCommand(use, short, operation string, fn func(ctx context.Context, a *app.DriveApp, owner, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(cmd, operation, args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
				return fn(ctx, a, owner, id)
			})
		},
	}
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create folders below the root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "Mkdir", args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			id, err := a.Mkdir(ctx, owner, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created %s (id %d)\n", args[0], id)
			return nil
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload LOCAL",
	Short: "Upload a local file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetInt64("parent")
		chunkSize, _ := cmd.Flags().GetInt64("chunk-size")
		recursive, _ := cmd.Flags().GetBool("recursive")

		local, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		return run(cmd, "Upload", []string{local}, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			report, err := a.Upload(ctx, owner, local, app.UploadOptions{
				ParentID:  parent,
				Recursive: recursive,
				ChunkSize: chunkSize,
			})
			fmt.Printf("Uploaded %d file(s), %d byte(s), %d chunked, %d instant\n",
				report.Files, report.Bytes, report.Chunked, report.Instant)
			return err
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [ID]",
	Short: "List a folder (the root by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent := drive.RootID
		if len(args) > 0 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			parent = id
		}
		return run(cmd, "List", nil, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			nodes, err := a.Service().Tree.List(ctx, owner, parent)
			if err != nil {
				return err
			}
			printNodes(nodes)
			return nil
		})
	},
}

var pathCmd = &cobra.Command{
	Use:   "path ID",
	Short: "Show the path from the root to a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(cmd, "ResolvePath", nil, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			entries, err := a.Service().Tree.ResolvePath(ctx, id, owner)
			if err != nil {
				return err
			}
			names := make([]string, len(entries))
			for i, e := range entries {
				names[i] = e.Name
			}
			fmt.Println("/" + strings.Join(names, "/"))
			return nil
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(cmd, "Rename", args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			n, err := a.Service().Tree.Rename(ctx, id, args[1], owner)
			if err != nil {
				return err
			}
			fmt.Printf("Renamed %d to %s\n", n.ID, n.Name)
			return nil
		})
	},
}

// treeMoveCommand builds mv and cp, which take a node and a target folder.
func treeMoveCommand(use, short, operation string, fn func(*drive.NamespaceTree, context.Context, int64, int64, int64) (*drive.Node, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			parent, err := parseID(args[1])
			if err != nil {
				return err
			}
			return run(cmd, operation, args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
				n, err := fn(a.Service().Tree, ctx, id, parent, owner)
				if err != nil {
					return err
				}
				fmt.Printf("%s -> %d (id %d)\n", n.Name, n.ParentID, n.ID)
				return nil
			})
		},
	}
}

var mvCmd = treeMoveCommand("mv ID PARENT", "Move a node into another folder", "Move", (*drive.NamespaceTree).Move)

var cpCmd = treeMoveCommand("cp ID PARENT", "Copy a node into another folder", "Copy", (*drive.NamespaceTree).Copy)

var rmCmd = &cobra.Command{
	Use:   "rm ID...",
	Short: "Move nodes and their subtrees to the trash",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return run(cmd, "Delete", args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			n, err := a.Service().Tree.DeleteMany(ctx, ids, owner)
			if err != nil {
				return err
			}
			fmt.Printf("Trashed %d node(s)\n", n)
			return nil
		})
	},
}

var restoreCmd = idCommand("restore ID", "Restore a trashed node and its subtree", "Restore",
	func(ctx context.Context, a *app.DriveApp, owner, id int64) error {
		if err := a.Service().Tree.Restore(ctx, id, owner); err != nil {
			return err
		}
		fmt.Printf("Restored %d\n", id)
		return nil
	})

var purgeCmd = idCommand("purge ID", "Permanently remove a trashed node", "Purge",
	func(ctx context.Context, a *app.DriveApp, owner, id int64) error {
		r, err := a.Service().Tree.Purge(ctx, id, owner)
		if err != nil {
			return err
		}
		printPurge(r)
		return nil
	})

// trash command
var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Manage the trash",
}

var trashListCmd = &cobra.Command{
	Use:   "list [FOLDER_ID]",
	Short: "List the trash, or what a trashed folder held",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var folder int64
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			folder = id
		}
		return run(cmd, "ListTrash", nil, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			tree := a.Service().Tree
			var nodes []*drive.Node
			var err error
			if folder == drive.RootID {
				nodes, err = tree.ListTrash(ctx, owner)
			} else {
				nodes, err = tree.ListTrashFolder(ctx, owner, folder)
			}
			if err != nil {
				return err
			}
			printNodes(nodes)
			return nil
		})
	},
}

var trashEmptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Permanently remove everything in the trash",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "EmptyTrash", []string{}, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			r, err := a.Service().Tree.EmptyTrash(ctx, owner)
			if err != nil {
				return err
			}
			printPurge(r)
			return nil
		})
	},
}

var starCmd = &cobra.Command{
	Use:   "star [ID]",
	Short: "Star a node, or list starred nodes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")
		if len(args) == 0 {
			return run(cmd, "ListStarred", nil, func(ctx context.Context, a *app.DriveApp, owner int64) error {
				nodes, err := a.Service().Tree.ListStarred(ctx, owner)
				if err != nil {
					return err
				}
				printNodes(nodes)
				return nil
			})
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(cmd, "SetStarred", args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			return a.Service().Tree.SetStarred(ctx, id, owner, !off)
		})
	},
}

var urlCmd = idCommand("url ID", "Print a presigned download URL", "DownloadURL",
	func(ctx context.Context, a *app.DriveApp, owner, id int64) error {
		u, err := a.DownloadURL(ctx, owner, id)
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	})

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show or set the owner's quota",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("set") {
			total, _ := cmd.Flags().GetInt64("set")
			return run(cmd, "SetQuota", []string{fmt.Sprint(total)}, func(ctx context.Context, a *app.DriveApp, owner int64) error {
				q, err := a.Service().Quota.SetTotal(ctx, owner, total)
				if err != nil {
					return err
				}
				fmt.Printf("Quota for %d set to %d bytes (%d used)\n", owner, q.Total, q.Used)
				return nil
			})
		}
		return run(cmd, "Quota", nil, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			q, err := a.Service().Quota.Usage(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Printf("Used:      %d\n", q.Used)
			fmt.Printf("Total:     %d\n", q.Total)
			fmt.Printf("Available: %d\n", q.Available)
			fmt.Printf("Usage:     %.1f%%\n", q.UsagePercent)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search KEYWORD",
	Short: "Find active nodes by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "Search", nil, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			nodes, err := a.Search(ctx, owner, args[0])
			if err != nil {
				return err
			}
			printNodes(nodes)
			return nil
		})
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the search index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-index every active node of the owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "RebuildIndex", []string{}, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			n, err := a.RebuildIndex(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d node(s)\n", n)
			return nil
		})
	},
}

func init() {
	uploadCmd.Flags().Int64("parent", drive.RootID, "Folder id to upload into")
	uploadCmd.Flags().Int64("chunk-size", 0, "Chunk size in bytes (default: upload.chunk_size)")
	uploadCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	starCmd.Flags().Bool("off", false, "Remove the star")
	quotaCmd.Flags().Int64("set", 0, "Set the total quota in bytes")

	trashCmd.AddCommand(trashListCmd)
	trashCmd.AddCommand(trashEmptyCmd)
	indexCmd.AddCommand(indexRebuildCmd)

	for _, c := range []*cobra.Command{
		mkdirCmd, uploadCmd, lsCmd, pathCmd, renameCmd, mvCmd, cpCmd,
		rmCmd, restoreCmd, purgeCmd, trashCmd, starCmd, urlCmd, quotaCmd,
		searchCmd, indexCmd,
	} {
		rootCmd.AddCommand(c)
	}
}
