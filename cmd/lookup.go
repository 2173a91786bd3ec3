package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meadowrx/dispense-cli/pkg/ndc"
	"github.com/meadowrx/dispense-cli/pkg/rxnorm"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Query the drug registries directly",
}

var (
	lookupDrugTerm string
	lookupDrugMax  int
)

var lookupDrugCmd = &cobra.Command{
	Use:   "drug",
	Short: "Approximate-match a drug name against RxNorm",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client := rxnorm.NewClient(
			rxnorm.WithBaseURL(cfg.RxNorm.BaseURL),
			rxnorm.WithRateLimit(cfg.RxNorm.RequestsPerS),
		)

		candidates, err := client.ApproximateMatch(ctx, lookupDrugTerm, lookupDrugMax)
		if err != nil {
			return eris.Wrap(err, "approximate match")
		}

		type entry struct {
			rxnorm.Candidate
			TermType string `json:"term_type,omitempty"`
		}
		out := make([]entry, 0, len(candidates))
		for _, c := range candidates {
			e := entry{Candidate: c}
			if props, err := client.GetProperties(ctx, c.RxCUI); err == nil && props != nil {
				e.TermType = props.TTY
			}
			out = append(out, e)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var (
	lookupPkgRxCUI string
	lookupPkgName  string
)

var lookupPackagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "List NDC directory packages for a drug",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts := []ndc.Option{ndc.WithBaseURL(cfg.NDC.BaseURL)}
		if cfg.NDC.Key != "" {
			opts = append(opts, ndc.WithAPIKey(cfg.NDC.Key))
		}
		client := ndc.NewClient(opts...)

		var products []ndc.Product
		var err error
		if lookupPkgRxCUI != "" {
			products, err = client.SearchByRxCUI(ctx, lookupPkgRxCUI, 25)
		} else {
			products, err = client.SearchByName(ctx, lookupPkgName, 25)
		}
		if err != nil {
			return eris.Wrap(err, "ndc search")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(products)
	},
}

func init() {
	lookupDrugCmd.Flags().StringVar(&lookupDrugTerm, "term", "", "drug name to match (required)")
	lookupDrugCmd.Flags().IntVar(&lookupDrugMax, "max", 10, "max candidates to return")
	_ = lookupDrugCmd.MarkFlagRequired("term")

	lookupPackagesCmd.Flags().StringVar(&lookupPkgRxCUI, "rxcui", "", "RxNorm concept identifier")
	lookupPackagesCmd.Flags().StringVar(&lookupPkgName, "name", "", "generic or brand name")
	lookupPackagesCmd.MarkFlagsMutuallyExclusive("rxcui", "name")
	lookupPackagesCmd.MarkFlagsOneRequired("rxcui", "name")

	lookupCmd.AddCommand(lookupDrugCmd)
	lookupCmd.AddCommand(lookupPackagesCmd)
	rootCmd.AddCommand(lookupCmd)
}
