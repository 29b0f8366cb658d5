package aws

import (
	"context"
	"log"
	"thruster/src/lib"
	"thruster/src/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func GetSQSClient() *sqs.Client {
	cfg, err := lib.AWSConfig()
	if err != nil {
		log.Printf("Failed to initialize SQS client: %s\n", err.Error())
		return nil
	}
	return sqs.NewFromConfig(*cfg)
}

type SQSConsumer struct {
	Name    string
	handler types.Handler
	client  SQSAPI
}

func NewSQSConsumer(queue string, client SQSAPI, handler types.Handler) *SQSConsumer {
	new := SQSConsumer{
		Name:    queue,
		handler: handler,
		client:  client,
	}
	return &new
}

// Listen long-polls the queue until ctx is done. Messages are deleted only after
// the handler succeeds; failures reappear after the visibility timeout.
func (s *SQSConsumer) Listen(ctx context.Context) {
	go func() {
		qname := s.Name
		qurl, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
			QueueName: aws.String(qname),
		})
		if err != nil {
			log.Printf("Failed to retrieve queue URL for %s: %s\n", qname, err.Error())
			return
		}
		log.Printf("%s: Listening for messages...", qname)
		for ctx.Err() == nil {
			s.poll(ctx, qurl.QueueUrl)
		}
		log.Printf("%s: Stopped listening", qname)
	}()
}

func (s *SQSConsumer) poll(ctx context.Context, qurl *string) {
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            qurl,
		WaitTimeSeconds:     20,
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[SQS] Error receiving messages from %s: %s\n", s.Name, err.Error())
		}
		return
	}
	for _, m := range output.Messages {
		s.handle(ctx, qurl, m)
	}
}

func (s *SQSConsumer) handle(ctx context.Context, qurl *string, m sqstypes.Message) {
	if err := s.handler(ctx, aws.ToString(m.Body)); err != nil {
		log.Printf("[SQS] %s: message %s not processed: %s\n", s.Name, aws.ToString(m.MessageId), err.Error())
		return
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      qurl,
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		log.Printf("Error deleting message from queue: %s\n", err.Error())
	}
}
