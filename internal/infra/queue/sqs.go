package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSAPI is the subset of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue stores jobs in an SQS queue. A message is deleted only after its
// handler succeeds; otherwise it reappears after the visibility timeout.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	reg      *Registry
	log      *zap.Logger
}

func NewSQSQueue(cfg aws.Config, queueURL string, reg *Registry, log *zap.Logger) *SQSQueue {
	return NewSQSQueueWithClient(sqs.NewFromConfig(cfg), queueURL, reg, log)
}

func NewSQSQueueWithClient(client SQSAPI, queueURL string, reg *Registry, log *zap.Logger) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, reg: reg, log: log}
}

func (q *SQSQueue) Enqueue(ctx context.Context, jobs ...Job) error {
	for _, j := range jobs {
		body, err := json.Marshal(j)
		if err != nil {
			return err
		}
		if _, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(q.queueURL),
			MessageBody: aws.String(string(body)),
		}); err != nil {
			return fmt.Errorf("send %s job: %w", j.Kind, err)
		}
	}
	return nil
}

// Run long-polls until ctx is done.
func (q *SQSQueue) Run(ctx context.Context) error {
	q.log.Info("sqs polling started", zap.String("queue_url", q.queueURL))
	for {
		select {
		case <-ctx.Done():
			q.log.Info("sqs polling stopped")
			return nil
		default:
		}
		if err := q.pollOnce(ctx); err != nil && ctx.Err() == nil {
			q.log.Error("sqs poll failed", zap.Error(err))
			time.Sleep(time.Second)
		}
	}
}

func (q *SQSQueue) pollOnce(ctx context.Context) error {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return fmt.Errorf("receive messages: %w", err)
	}

	for _, msg := range out.Messages {
		if msg.Body == nil {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(*msg.Body), &job); err != nil {
			// 読めないメッセージは捨てる
			q.log.Error("drop malformed job message", zap.Error(err))
			q.delete(ctx, msg.ReceiptHandle)
			continue
		}
		job.Attempt++
		if err := q.reg.Dispatch(ctx, job); err != nil {
			q.log.Warn("job failed, left for redelivery",
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind),
				zap.Error(err),
			)
			continue
		}
		q.delete(ctx, msg.ReceiptHandle)
	}
	return nil
}

func (q *SQSQueue) delete(ctx context.Context, receipt *string) {
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receipt,
	}); err != nil {
		q.log.Error("delete sqs message failed", zap.Error(err))
	}
}
