package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	now      func() time.Time
}

// NewSQSPublisher resolves the queue URL once at startup.
func NewSQSPublisher(ctx context.Context, queueName, endpoint string) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	opts := sqs.Options{
		Region:      cfg.Region,
		Credentials: cfg.Credentials,
		HTTPClient:  cfg.HTTPClient,
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}
	client := sqs.New(opts)

	resp, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, fmt.Errorf("get queue url %s: %w", queueName, err)
	}
	return &SQSPublisher{client: client, queueURL: aws.ToString(resp.QueueUrl), now: time.Now}, nil
}

func (p *SQSPublisher) Enqueue(ctx context.Context, task string, payload interface{}) error {
	body, err := NewEnvelope(task, payload, p.now())
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"task": {DataType: aws.String("String"), StringValue: aws.String(task)},
		},
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", task, err)
	}
	return nil
}
