// Package metrics counts workflow outcomes in CloudWatch.
package metrics

import (
	"context"
	"sort"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/aws"
)

// Metric names.
const (
	TaskCompleted       = "TaskCompleted"
	TaskFailed          = "TaskFailed"
	WorkflowStarted     = "WorkflowStarted"
	WorkflowStartFailed = "WorkflowStartFailed"
)

// DimensionTaskType is the dimension carrying the job type on task metrics.
const DimensionTaskType = "TaskType"

// Recorder counts events. Implementations must not block the caller for
// long and never fail it.
type Recorder interface {
	Incr(ctx context.Context, metric string, dims map[string]string)
}

// Nop discards every count.
type Nop struct{}

func (Nop) Incr(context.Context, string, map[string]string) {}

// CloudWatch publishes each count as a single PutMetricData call.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	log       *zap.Logger
	nowFunc   func() time.Time
}

// New returns a CloudWatch recorder, or Nop when namespace is empty.
func New(client aws.CloudWatchAPI, namespace string, log *zap.Logger) Recorder {
	if namespace == "" || client == nil {
		return Nop{}
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		log:       log,
		nowFunc:   time.Now,
	}
}

// Incr adds 1 to metric. Errors are logged.
func (c *CloudWatch) Incr(ctx context.Context, metric string, dims map[string]string) {
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)

	dimensions := make([]cwtypes.Dimension, 0, len(names))
	for _, k := range names {
		dimensions = append(dimensions, cwtypes.Dimension{
			Name:  awssdk.String(k),
			Value: awssdk.String(dims[k]),
		})
	}

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awssdk.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: awssdk.String(metric),
			Dimensions: dimensions,
			Timestamp:  awssdk.Time(c.nowFunc()),
			Unit:       cwtypes.StandardUnitCount,
			Value:      awssdk.Float64(1),
		}},
	})
	if err != nil {
		c.log.Warn("failed to publish metric", zap.String("metric", metric), zap.Error(err))
	}
}
