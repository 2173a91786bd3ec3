package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dispenseText string
	dispenseFile string
)

var dispenseCmd = &cobra.Command{
	Use:   "dispense",
	Short: "Run the dispensing pipeline for a single prescription",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		text, err := prescriptionText()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, text)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("dispensing decision complete",
			zap.String("calculation_id", result.CalculationID),
			zap.String("status", string(result.Status)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	dispenseCmd.Flags().StringVar(&dispenseText, "text", "", "free-text prescription")
	dispenseCmd.Flags().StringVar(&dispenseFile, "file", "", "file containing the prescription text")
	dispenseCmd.MarkFlagsMutuallyExclusive("text", "file")
	dispenseCmd.MarkFlagsOneRequired("text", "file")
	rootCmd.AddCommand(dispenseCmd)
}

func prescriptionText() (string, error) {
	if dispenseText != "" {
		return dispenseText, nil
	}
	data, err := os.ReadFile(dispenseFile)
	if err != nil {
		return "", eris.Wrap(err, "read prescription file")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", eris.New("prescription file is empty")
	}
	return text, nil
}
