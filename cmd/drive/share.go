package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whrgg/cloud-drive-project/internal/app"
	"github.com/whrgg/cloud-drive-project/internal/drive"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Manage share links",
}

func printShare(s *drive.Share) {
	expires := "never"
	if s.ExpiresAt.Valid {
		expires = s.ExpiresAt.Time.Format("2006-01-02 15:04")
	}
	fmt.Printf("#%d  %s  node %d  code %-6s  expires %s  views %d  downloads %d  saves %d\n",
		s.ID, s.Code, s.RootNodeID, s.ExtractionCode, expires, s.Views, s.Downloads, s.Saves)
}

var shareCreateCmd = &cobra.Command{
	Use:   "create ID",
	Short: "Share a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		code, _ := cmd.Flags().GetString("extraction-code")
		protect, _ := cmd.Flags().GetBool("protect")
		days, _ := cmd.Flags().GetInt("days")

		return run(cmd, "CreateShare", args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			s, err := a.Service().Shares.CreateShare(ctx, owner, id, drive.ShareOptions{
				ExtractionCode:    code,
				RequireExtraction: protect,
				ExpireDays:        days,
			})
			if err != nil {
				return err
			}
			printShare(s)
			return nil
		})
	},
}

var shareListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active shares",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ListShares", nil, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			shares, err := a.Service().Shares.ListShares(ctx, owner)
			if err != nil {
				return err
			}
			if len(shares) == 0 {
				fmt.Println("No active shares.")
			}
			for _, s := range shares {
				printShare(s)
			}
			return nil
		})
	},
}

var shareCancelCmd = &cobra.Command{
	Use:   "cancel SHARE_ID...",
	Short: "Cancel shares",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return run(cmd, "CancelShare", args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			n, err := a.Service().Shares.CancelShares(ctx, owner, ids)
			if err != nil {
				return err
			}
			fmt.Printf("Cancelled %d share(s)\n", n)
			return nil
		})
	},
}

var shareShowCmd = &cobra.Command{
	Use:   "show CODE [FOLDER_ID]",
	Short: "Open a share as a visitor and list its contents",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		extraction, _ := cmd.Flags().GetString("extraction-code")
		folder := drive.RootID
		if len(args) > 1 {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			folder = id
		}
		return run(cmd, "OpenShare", nil, func(ctx context.Context, a *app.DriveApp, _ int64) error {
			shares := a.Service().Shares
			s, err := shares.ResolveShare(ctx, args[0])
			if err != nil {
				return err
			}
			if err := shares.Authorize(s, extraction); err != nil {
				return err
			}
			nodes, err := shares.ListShared(ctx, s, folder)
			if err != nil {
				return err
			}
			printNodes(nodes)
			return nil
		})
	},
}

var shareSaveCmd = &cobra.Command{
	Use:   "save CODE NODE_ID",
	Short: "Copy a node from a share into your drive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		extraction, _ := cmd.Flags().GetString("extraction-code")
		parent, _ := cmd.Flags().GetInt64("parent")
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return run(cmd, "SaveShared", args, func(ctx context.Context, a *app.DriveApp, owner int64) error {
			n, err := a.SaveShared(ctx, args[0], extraction, id, parent, owner)
			if err != nil {
				return err
			}
			fmt.Printf("Saved %s (id %d)\n", n.Name, n.ID)
			return nil
		})
	},
}

var shareURLCmd = &cobra.Command{
	Use:   "url CODE NODE_ID",
	Short: "Print a download URL for a file inside a share",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		extraction, _ := cmd.Flags().GetString("extraction-code")
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return run(cmd, "ShareDownloadURL", nil, func(ctx context.Context, a *app.DriveApp, _ int64) error {
			u, err := a.ShareDownloadURL(ctx, args[0], extraction, id)
			if err != nil {
				return err
			}
			fmt.Println(u)
			return nil
		})
	},
}

func init() {
	shareCreateCmd.Flags().String("extraction-code", "", "Extraction code visitors must enter")
	shareCreateCmd.Flags().Bool("protect", false, "Generate a four-digit extraction code")
	shareCreateCmd.Flags().Int("days", 7, "Days until the share expires (0: never)")
	for _, c := range []*cobra.Command{shareShowCmd, shareSaveCmd, shareURLCmd} {
		c.Flags().StringP("extraction-code", "c", "", "Extraction code of the share")
	}
	shareSaveCmd.Flags().Int64("parent", drive.RootID, "Folder id to save into")

	shareCmd.AddCommand(shareCreateCmd)
	shareCmd.AddCommand(shareListCmd)
	shareCmd.AddCommand(shareCancelCmd)
	shareCmd.AddCommand(shareShowCmd)
	shareCmd.AddCommand(shareSaveCmd)
	shareCmd.AddCommand(shareURLCmd)
	rootCmd.AddCommand(shareCmd)
}
