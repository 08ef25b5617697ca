package events

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNSAPI is the subset of the SNS client used by the publisher
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type snsPublisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewSNSPublisher publishes events to an SNS topic with the event type as a message attribute
func NewSNSPublisher(client SNSAPI, topicARN string, logger *zap.Logger) Publisher {
	return &snsPublisher{client: client, topicARN: topicARN, logger: logger}
}

func (p *snsPublisher) Publish(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.Error(err))
		return
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
			"contract_id": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatUint(event.ContractID, 10)),
			},
		},
	}
	if _, err := p.client.Publish(ctx, input); err != nil {
		p.logger.Warn("Failed to publish event to SNS",
			zap.String("type", string(event.Type)),
			zap.Uint64("contract_id", event.ContractID),
			zap.Error(err))
	}
}
