package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

const (
	// DataKeyResourceMetrics is where ingestion agents drop utilization
	// snapshots for the analysis stage to pick up.
	DataKeyResourceMetrics = "RESOURCE_METRICS"
	// DataKeyUserPrompt is where the entrypoint persists the invoking
	// user's prompt for the analysis stage.
	DataKeyUserPrompt = "USER_PROMPT"
)

// StoreMetricsSource reads resource metrics from the session data store.
// Agents write the RESOURCE_METRICS item through the data_store tool before
// the pipeline is dispatched. A session with no metrics yields an empty
// collection rather than an error; the analysis stage then produces a report
// with no findings.
type StoreMetricsSource struct {
	Store store.Store
}

func (s *StoreMetricsSource) Collect(ctx context.Context, sessionID string) ([]ResourceMetrics, error) {
	item, err := s.Store.ReadData(ctx, sessionID, DataKeyResourceMetrics)
	if err != nil {
		var serr *schema.Error
		if errors.As(err, &serr) && serr.Code == schema.ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}

	var resources []ResourceMetrics
	if err := json.Unmarshal([]byte(item.Content), &resources); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"malformed %s data: %v", DataKeyResourceMetrics, err).WithCause(err)
	}
	return resources, nil
}
