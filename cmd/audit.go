package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/model"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and update the audit trail",
}

var (
	auditListCalculation string
	auditListEvent       string
	auditListStatus      string
	auditListLimit       int
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		records, err := st.ListAudits(ctx, model.AuditFilter{
			CalculationID: auditListCalculation,
			EventType:     model.EventType(auditListEvent),
			Status:        model.AuditStatus(auditListStatus),
			Limit:         auditListLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list audits")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

var (
	auditUpdateID     string
	auditUpdateStatus string
)

var auditUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the status of an audit record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		status := model.AuditStatus(auditUpdateStatus)
		switch status {
		case model.AuditStatusApproved, model.AuditStatusPending, model.AuditStatusRejected:
		default:
			return eris.Errorf("invalid status %q (approved|pending|rejected)", auditUpdateStatus)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if err := st.UpdateAuditStatus(ctx, auditUpdateID, status); err != nil {
			return eris.Wrap(err, "update audit status")
		}

		zap.L().Info("audit record updated",
			zap.String("id", auditUpdateID),
			zap.String("status", auditUpdateStatus),
		)
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditListCalculation, "calculation", "", "filter by calculation ID")
	auditListCmd.Flags().StringVar(&auditListEvent, "event", "", "filter by event type")
	auditListCmd.Flags().StringVar(&auditListStatus, "status", "", "filter by status")
	auditListCmd.Flags().IntVar(&auditListLimit, "limit", 100, "max records to return")

	auditUpdateCmd.Flags().StringVar(&auditUpdateID, "id", "", "audit record ID (required)")
	auditUpdateCmd.Flags().StringVar(&auditUpdateStatus, "status", "", "new status (required)")
	_ = auditUpdateCmd.MarkFlagRequired("id")
	_ = auditUpdateCmd.MarkFlagRequired("status")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditUpdateCmd)
	rootCmd.AddCommand(auditCmd)
}
