package external

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"bizpulse/internal/types"
)

// Metric and dimension names for event processing telemetry.
const (
	MetricEventProcessed = "BillingEventProcessed"
	DimEventType         = "EventType"
	DimOutcome           = "Outcome"
)

// CloudWatchClient abstracts the PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchOutcomeMetrics emits one BillingEventProcessed count per event
// delivery, dimensioned by event type and outcome, so dashboards can watch
// rejection and duplicate rates per type. Emission failures are logged and
// swallowed; metrics must never affect event processing.
type CloudWatchOutcomeMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchOutcomeMetrics creates a metrics emitter publishing into the
// given CloudWatch namespace.
func NewCloudWatchOutcomeMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchOutcomeMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchOutcomeMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordOutcome emits the outcome counter for one processed event.
func (m *CloudWatchOutcomeMetrics) RecordOutcome(ctx context.Context, eventType string, outcome types.EventOutcome) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricEventProcessed),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(DimEventType),
						Value: aws.String(eventType),
					},
					{
						Name:  aws.String(DimOutcome),
						Value: aws.String(string(outcome)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record event outcome metric",
			slog.String("event_type", eventType),
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()),
		)
	}
}

var _ OutcomeMetrics = (*CloudWatchOutcomeMetrics)(nil)

// NoopOutcomeMetrics discards metrics. Used when metrics are disabled.
type NoopOutcomeMetrics struct{}

// RecordOutcome does nothing.
func (NoopOutcomeMetrics) RecordOutcome(context.Context, string, types.EventOutcome) {}

var _ OutcomeMetrics = NoopOutcomeMetrics{}
