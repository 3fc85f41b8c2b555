package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"smartplanning/internal/audit"
	"smartplanning/internal/planning"
)

func newSnapshotCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, inspect and manage planning snapshots",
	}
	cmd.AddCommand(
		newSnapshotCreateCmd(c),
		newSnapshotListCmd(c),
		newSnapshotGetCmd(c),
		newSnapshotRenameCmd(c),
		newSnapshotDeleteCmd(c),
		newSnapshotValidateCmd(c),
	)
	return cmd
}

func newSnapshotCreateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a snapshot from live data or a copy of another snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comment, _ := cmd.Flags().GetString("comment")
			from, _ := cmd.Flags().GetString("from")
			empty, _ := cmd.Flags().GetBool("empty")

			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			info, err := comps.Planning.CreateSnapshot(cmd.Context(), planning.CreateOptions{
				Name:        args[0],
				Comment:     comment,
				CopyFrom:    from,
				SkipCrawler: empty,
			})
			if err != nil {
				return fmt.Errorf("create snapshot: %w", err)
			}
			return c.print(cmd, info, func(w io.Writer) {
				fmt.Fprintf(w, "Created snapshot %s (%s)\n", info.Name, info.ID)
			})
		},
	}
	cmd.Flags().String("comment", "", "Snapshot comment")
	cmd.Flags().String("from", "", "Copy the data of this snapshot id")
	cmd.Flags().Bool("empty", false, "Create an empty snapshot without crawling live data")
	return cmd
}

func newSnapshotListCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")

			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			all, err := comps.Planning.ListSnapshots(cmd.Context())
			if err != nil {
				return fmt.Errorf("list snapshots: %w", err)
			}
			out := make([]planning.SnapshotInfo, 0, len(all))
			for _, s := range all {
				if filter == "" || strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter)) {
					out = append(out, s)
				}
			}
			return c.print(cmd, out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tVALID\tMODIFIED")
				for _, s := range out {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, validLabel(s.IsSuccessfullyValidated), s.DataModifiedAt)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().String("filter", "", "Only list snapshots whose name contains this text")
	return cmd
}

func validLabel(v *bool) string {
	switch {
	case v == nil:
		return "-"
	case *v:
		return "yes"
	default:
		return "no"
	}
}

func newSnapshotGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a snapshot's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			snap, err := comps.Planning.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get snapshot: %w", err)
			}
			return c.print(cmd, snap.SnapshotInfo, func(w io.Writer) {
				fmt.Fprintf(w, "ID:       %s\n", snap.ID)
				fmt.Fprintf(w, "Name:     %s\n", snap.Name)
				fmt.Fprintf(w, "Comment:  %s\n", snap.Comment)
				fmt.Fprintf(w, "Valid:    %s\n", validLabel(snap.IsSuccessfullyValidated))
				fmt.Fprintf(w, "Modified: %s by %s\n", snap.DataModifiedAt, snap.DataModifiedBy)
			})
		},
	}
}

func newSnapshotRenameCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <new-name>",
		Short: "Rename a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			info, err := comps.Planning.RenameSnapshot(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("rename snapshot: %w", err)
			}
			return c.print(cmd, info, func(w io.Writer) {
				fmt.Fprintf(w, "Renamed snapshot %s to %s\n", info.ID, info.Name)
			})
		},
	}
}

func newSnapshotDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			if err := comps.Planning.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete snapshot: %w", err)
			}
			return c.print(cmd, map[string]any{"id": args[0], "deleted": true}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted snapshot %s\n", args[0])
			})
		},
	}
}

func newSnapshotValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Validate a snapshot; exits 1 when errors remain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			v, err := comps.Planning.Validate(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("validate snapshot: %w", err)
			}
			if err := c.print(cmd, v, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", args[0], audit.Summary(v.Messages))
				for _, m := range v.Messages.Errors() {
					fmt.Fprintf(w, "  %s\n", m.Message)
				}
			}); err != nil {
				return err
			}
			if len(v.Messages.Errors()) > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}
