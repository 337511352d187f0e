package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the conversion cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show conversion cache usage per kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			stats, err := ctx.conversionCache(nil).Stats()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache: %s\n", ctx.project.Rel(stats.Root))
			if stats.Entries == 0 {
				fmt.Fprintln(out, "Cache is empty")
				return nil
			}
			rows := make([][]string, 0, len(stats.Kinds)+1)
			for _, ks := range stats.Kinds {
				rows = append(rows, []string{ks.Kind, strconv.Itoa(ks.Entries), humanize.IBytes(uint64(ks.Bytes))})
			}
			rows = append(rows, []string{"total", strconv.Itoa(stats.Entries), humanize.IBytes(uint64(stats.Bytes))})
			fmt.Fprintln(out, renderTable(
				[]string{"Kind", "Entries", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print stats as JSON")
	return cmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [kind]",
		Short: "Remove cached conversions (all kinds, or one kind such as pdf)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			kind := ""
			if len(args) == 1 {
				kind = args[0]
			}
			removed, err := ctx.conversionCache(nil).Clear(kind)
			if err != nil {
				return err
			}
			label := "conversion cache"
			if kind != "" {
				label = kind + " conversions"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s (%d entries)\n", label, removed)
			return nil
		},
	}
}
