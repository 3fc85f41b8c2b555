package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newKnowledgeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the document index used by the RAG agent",
	}
	cmd.AddCommand(newKnowledgeIngestCmd(c), newKnowledgeSearchCmd(c))
	return cmd
}

func newKnowledgeIngestCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Index every document below a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exts, _ := cmd.Flags().GetStringSlice("ext")

			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()
			if comps.Knowledge == nil {
				return fmt.Errorf("KNOWLEDGE_DB is not configured")
			}

			rep, err := comps.Knowledge.IngestDir(cmd.Context(), args[0], exts...)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", args[0], err)
			}
			return c.print(cmd, rep, func(w io.Writer) {
				fmt.Fprintf(w, "Indexed %d file(s), %d chunk(s)\n", rep.Files, rep.Chunks)
				if len(rep.Skipped) > 0 {
					fmt.Fprintf(w, "Skipped: %s\n", strings.Join(rep.Skipped, ", "))
				}
			})
		},
	}
	cmd.Flags().StringSlice("ext", nil, "File extensions to index (default: the index's text formats)")
	return cmd
}

func newKnowledgeSearchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the document index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topK, _ := cmd.Flags().GetInt("top-k")
			minScore, _ := cmd.Flags().GetFloat64("min-score")

			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()
			if comps.Knowledge == nil {
				return fmt.Errorf("KNOWLEDGE_DB is not configured")
			}

			res, err := comps.Knowledge.Search(cmd.Context(), strings.Join(args, " "), topK, minScore)
			if err != nil {
				return err
			}
			return c.print(cmd, res, func(w io.Writer) {
				if len(res.Hits) == 0 {
					fmt.Fprintf(w, "No relevant documents (highest score %.3f)\n", res.MaxScore)
					return
				}
				for _, h := range res.Hits {
					fmt.Fprintf(w, "%.3f  %s\n", h.Score, h.Ref())
				}
			})
		},
	}
	cmd.Flags().Int("top-k", 8, "Maximum number of hits")
	cmd.Flags().Float64("min-score", 0.5, "Minimum relevance score")
	return cmd
}
