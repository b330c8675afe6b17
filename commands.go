package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/briangreenhill/baydirectory/pkg/directory"
	"github.com/briangreenhill/baydirectory/pkg/translate"
)

type appFunc func() *app

func newProgramsCmd(get appFunc) *cobra.Command {
	var (
		q      directory.ProgramQuery
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "programs",
		Short: "List programs, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := get().client.GetPrograms(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("list programs: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tVERIFIED")
			for _, p := range list.Programs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Category, orDash(p.VerifiedDate))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d programs\n", len(list.Programs), list.Total)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.Category, "category", "", "category name, e.g. Food")
	f.StringVar(&q.Area, "area", "", "county or city")
	f.StringVar(&q.Eligibility, "eligibility", "", "eligibility group, e.g. seniors")
	f.StringVar(&q.Search, "search", "", "free text search")
	f.IntVar(&q.Limit, "limit", 0, "maximum results")
	f.IntVar(&q.Offset, "offset", 0, "results to skip")
	f.BoolVar(&asJSON, "json", false, "print the raw JSON")
	return cmd
}

func newProgramCmd(get appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "program <id>",
		Short: "Show one program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := get().client.GetProgramByID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get program: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", p.Name, p.Category)
			if p.Description != "" {
				fmt.Fprintf(out, "\n%s\n\n", p.Description)
			}
			field := func(label, v string) {
				if v != "" {
					fmt.Fprintf(out, "%-12s %s\n", label+":", v)
				}
			}
			field("Eligibility", strings.Join(p.Eligibility, ", "))
			field("Areas", strings.Join(p.Areas, ", "))
			field("Website", p.Website)
			field("Phone", p.Phone)
			field("Address", p.Address)
			field("Verified", p.VerifiedDate)
			return nil
		},
	}
}

func newCategoriesCmd(get appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List program categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cats, err := get().client.GetCategories(cmd.Context())
			if err != nil {
				return fmt.Errorf("list categories: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROGRAMS")
			for _, c := range cats {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", c.ID, c.Name, c.ProgramCount)
			}
			return tw.Flush()
		},
	}
}

func newAreasCmd(get appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "areas",
		Short: "List service areas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			areas, err := get().client.GetAreas(cmd.Context())
			if err != nil {
				return fmt.Errorf("list areas: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tPROGRAMS")
			for _, a := range areas {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", a.ID, a.Name, orDash(a.Type), a.ProgramCount)
			}
			return tw.Flush()
		},
	}
}

func newStatsCmd(get appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show directory totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := get().client.GetStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Programs:     %d\n", s.TotalPrograms)
			fmt.Fprintf(out, "Categories:   %d\n", s.TotalCategories)
			fmt.Fprintf(out, "Areas:        %d\n", s.TotalAreas)
			fmt.Fprintf(out, "Last updated: %s\n", orDash(s.LastUpdated))
			return nil
		},
	}
}

func newTranslateCmd(get appFunc) *cobra.Command {
	var to, from string
	cmd := &cobra.Command{
		Use:   "translate --to <lang> <text>...",
		Short: "Translate strings, one per argument",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := get().translator.TranslateTexts(cmd.Context(), translate.Request{
				Texts:      args,
				TargetLang: to,
				SourceLang: from,
			})
			if err != nil {
				return fmt.Errorf("translate: %w", err)
			}
			for _, t := range res.Translations {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target language, e.g. es")
	cmd.Flags().StringVar(&from, "from", "", "source language (optional)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newCacheCmd(get appFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache occupancy",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := get()
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"backend":      a.store.Backend,
					"responses":    a.client.Cache().Stats(),
					"translations": a.translations.Stats(),
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached response and translation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := get()
				a.client.Cache().Clear()
				a.translations.Clear()
				fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
				return nil
			},
		},
	)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
