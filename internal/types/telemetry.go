package types

// Telemetry metric names for CloudWatch.
const (
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricQueueLag        = "QueueLag"

	DimPlatform = "Platform"
	DimResult   = "Result"

	MetricNamespace = "CivicWatch"
)
