package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"civicwatch/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchNotificationMetrics implements
// NotificationMetrics.
var _ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)

// CloudWatchNotificationMetrics implements NotificationMetrics by emitting
// metrics to AWS CloudWatch. Metric failures are logged, never propagated:
// telemetry must not affect delivery.
type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchNotificationMetrics creates metrics publishing to the
// CivicWatch namespace.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, logger types.Logger) *CloudWatchNotificationMetrics {
	return &CloudWatchNotificationMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// RecordDelivery emits a DeliveryAttempt metric with Platform and Result
// dimensions.
func (m *CloudWatchNotificationMetrics) RecordDelivery(ctx context.Context, platform types.Platform, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimPlatform), Value: aws.String(string(platform))},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
}

// RecordLatency emits the time taken by one delivery attempt, in
// milliseconds.
func (m *CloudWatchNotificationMetrics) RecordLatency(ctx context.Context, platform types.Platform, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimPlatform), Value: aws.String(string(platform))},
		},
	})
}

// RecordQueueLag emits the time between job enqueue and processing start.
func (m *CloudWatchNotificationMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchNotificationMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric data",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}
