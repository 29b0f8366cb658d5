package aws

import (
	"context"
	"encoding/json"
	"log"
	"thruster/src/lib"
	"thruster/src/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher sends events to the SNS topic named after the event topic.
type SNSPublisher struct {
	inner SNSAPI
}

func NewSNSPublisher() (*SNSPublisher, error) {
	cfg, err := lib.AWSConfig()
	if err != nil {
		return nil, err
	}
	return &SNSPublisher{inner: sns.NewFromConfig(*cfg)}, nil
}

func NewSNSPublisherWithClient(c SNSAPI) *SNSPublisher {
	return &SNSPublisher{inner: c}
}

func (s *SNSPublisher) Publish(ctx context.Context, topic, key string, payload types.JSONB) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	out, err := s.inner.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(lib.GetTopicArn(topic)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"key": {DataType: aws.String("String"), StringValue: aws.String(key)},
		},
	})
	if err != nil {
		log.Printf("[SNS] Error publishing to %s: %s\n", topic, err.Error())
		return err
	}
	log.Printf("[SNS] Published %s to %s\n", aws.ToString(out.MessageId), topic)
	return nil
}
