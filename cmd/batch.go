package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meadowrx/dispense-cli/internal/model"
)

var (
	batchFile  string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process a file of prescriptions, one per line",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		prescriptions, err := readPrescriptions(batchFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return processBatch(ctx, prescriptions, batchLimit, cfg.Batch.MaxConcurrent, func(ctx context.Context, text string) (*model.DispenseResult, error) {
			return env.Pipeline.Run(ctx, text)
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "prescriptions file, one per line (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max prescriptions to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// readPrescriptions loads non-empty, non-comment lines from the batch file.
func readPrescriptions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open batch file")
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "read batch file")
	}
	return out, nil
}

// dispenseFunc is the callback signature for running the pipeline on one prescription.
type dispenseFunc func(ctx context.Context, text string) (*model.DispenseResult, error)

// processBatch applies limit, then processes prescriptions concurrently with
// the given dispense function. Individual failures do not abort the batch.
func processBatch(ctx context.Context, prescriptions []string, limit, concurrency int, dispense dispenseFunc) error {
	if len(prescriptions) == 0 {
		zap.L().Info("no prescriptions found")
		return nil
	}

	if limit > 0 && len(prescriptions) > limit {
		prescriptions = prescriptions[:limit]
	}

	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("prescriptions", len(prescriptions)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var approved, held, failed atomic.Int64

	for i, text := range prescriptions {
		g.Go(func() error {
			log := zap.L().With(zap.Int("line", i+1))

			result, err := dispense(gctx, text)
			if err != nil {
				failed.Add(1)
				log.Error("dispensing failed", zap.Error(err))
				return nil
			}

			if result.Status == model.DispensePendingReview {
				held.Add(1)
			} else {
				approved.Add(1)
			}
			log.Info("dispensing complete",
				zap.String("calculation_id", result.CalculationID),
				zap.String("status", string(result.Status)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("approved", approved.Load()),
		zap.Int64("held_for_review", held.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
