package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/model"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// ReviewSubmitter enqueues manual-review requests to the pharmacy's review
// queue webhook. Submission failures are logged and non-fatal: the dispense
// is already held as pending.
type ReviewSubmitter struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewReviewSubmitter creates a submitter. An empty webhookURL disables
// submission.
func NewReviewSubmitter(webhookURL string) *ReviewSubmitter {
	return &ReviewSubmitter{
		webhookURL: webhookURL,
		httpClient: webhookClient,
		logger:     zap.L().Named("review"),
	}
}

// Submit posts the review request. Returns false when submission was
// skipped or failed.
func (r *ReviewSubmitter) Submit(ctx context.Context, req model.ReviewRequest) bool {
	if r.webhookURL == "" {
		return false
	}
	if err := r.post(ctx, req); err != nil {
		r.logger.Warn("review queue submission failed",
			zap.String("calculation_id", req.CalculationID),
			zap.String("priority", string(req.Priority)),
			zap.Error(err))
		return false
	}
	return true
}

func (r *ReviewSubmitter) post(ctx context.Context, req model.ReviewRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return eris.Wrap(err, "review: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "review: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "review: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("review: queue returned status %d", resp.StatusCode)
	}
	return nil
}
