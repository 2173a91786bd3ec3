package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meadowrx/dispense-cli/internal/audit"
	"github.com/meadowrx/dispense-cli/internal/cache"
	"github.com/meadowrx/dispense-cli/internal/catalog"
	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/internal/selection"
	"github.com/meadowrx/dispense-cli/pkg/ndc"
)

var (
	selectQuantity float64
	selectUnit     string
	selectSizes    string
	selectNDCs     []string
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Choose a fulfillment plan from explicit package sizes",
	Long:  "Runs the package selection engine directly, without the interpretation stage. Candidates come either from --sizes (synthetic packages) or from --ndc (real packages fetched from the NDC directory).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var candidates []model.CandidatePackage
		var err error
		if len(selectNDCs) > 0 {
			candidates, err = fetchCandidatesByNDC(ctx, selectNDCs)
		} else {
			candidates, err = syntheticCandidates(selectSizes, selectUnit)
		}
		if err != nil {
			return err
		}

		engine := selection.NewEngine(selection.Options{
			MaxDistinctPackages: cfg.Selection.MaxDistinctPackages,
			MaxPerPackage:       cfg.Selection.MaxPerPackage,
			MaxOverfillPercent:  cfg.Selection.MaxOverfillPercent,
			PreferFewerPackages: cfg.Selection.PreferFewerPackages,
		})

		plan, err := engine.Select(selectQuantity, candidates)
		if err != nil {
			return eris.Wrap(err, "select packages")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	},
}

func init() {
	selectCmd.Flags().Float64Var(&selectQuantity, "quantity", 0, "required quantity (required)")
	selectCmd.Flags().StringVar(&selectUnit, "unit", "tablet", "dispensing unit for --sizes")
	selectCmd.Flags().StringVar(&selectSizes, "sizes", "", "comma-separated package sizes, e.g. 30,60,100")
	selectCmd.Flags().StringSliceVar(&selectNDCs, "ndc", nil, "package NDC to fetch from the directory (repeatable)")
	selectCmd.MarkFlagsMutuallyExclusive("sizes", "ndc")
	selectCmd.MarkFlagsOneRequired("sizes", "ndc")
	_ = selectCmd.MarkFlagRequired("quantity")
	rootCmd.AddCommand(selectCmd)
}

// syntheticCandidates builds a candidate pool from bare package sizes.
func syntheticCandidates(sizesSpec, unit string) ([]model.CandidatePackage, error) {
	sizes, err := parseSizes(sizesSpec)
	if err != nil {
		return nil, err
	}
	candidates := make([]model.CandidatePackage, 0, len(sizes))
	for i, size := range sizes {
		candidates = append(candidates, model.CandidatePackage{
			PackageNDC:  fmt.Sprintf("manual-%d", i),
			Description: fmt.Sprintf("%g %s", size, unit),
			Quantity:    size,
			Unit:        unit,
			Active:      true,
		})
	}
	return candidates, nil
}

// fetchCandidatesByNDC resolves each package NDC against the directory.
func fetchCandidatesByNDC(ctx context.Context, ndcs []string) ([]model.CandidatePackage, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "migrate store")
	}

	opts := []ndc.Option{ndc.WithBaseURL(cfg.NDC.BaseURL)}
	if cfg.NDC.Key != "" {
		opts = append(opts, ndc.WithAPIKey(cfg.NDC.Key))
	}
	cat := catalog.New(ndc.NewClient(opts...), cache.NewTiered(st, cfg.Cache.MaxItems), audit.NewRecorder(st))

	calculationID := uuid.NewString()
	candidates := make([]model.CandidatePackage, 0, len(ndcs))
	for _, packageNDC := range ndcs {
		pkg, err := cat.GetPackage(ctx, calculationID, packageNDC)
		if err != nil {
			return nil, eris.Wrap(err, "fetch package")
		}
		if pkg == nil {
			return nil, eris.Errorf("package NDC %s not listed in the directory", packageNDC)
		}
		candidates = append(candidates, *pkg)
	}
	return candidates, nil
}

// parseSizes parses a comma-separated list of package sizes.
func parseSizes(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	sizes := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		size, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, eris.Errorf("invalid package size %q", part)
		}
		if size <= 0 {
			return nil, eris.Errorf("package size must be positive, got %g", size)
		}
		sizes = append(sizes, size)
	}
	if len(sizes) == 0 {
		return nil, eris.New("no package sizes given")
	}
	return sizes, nil
}
