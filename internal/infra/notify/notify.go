// Package notify delivers admin alerts.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// SNSAPI is the subset of *sns.Client used here.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type alert struct {
	Subject string    `json:"subject"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type SNSNotifier struct {
	client   SNSAPI
	topicArn string
	log      *zap.Logger
}

func NewSNSNotifier(cfg aws.Config, topicArn string, log *zap.Logger) *SNSNotifier {
	return NewSNSNotifierWithClient(sns.NewFromConfig(cfg), topicArn, log)
}

func NewSNSNotifierWithClient(client SNSAPI, topicArn string, log *zap.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicArn: topicArn, log: log}
}

func (n *SNSNotifier) Notify(ctx context.Context, subject, message string) error {
	if n.topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	body, err := json.Marshal(alert{Subject: subject, Message: message, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	// SNS の Subject は100文字まで
	if len(subject) > 100 {
		subject = subject[:100]
	}
	n.log.Debug("sns publish", zap.String("topic_arn", n.topicArn), zap.Int("message_len", len(body)))
	if _, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
	}); err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", n.topicArn, err)
	}
	return nil
}

// LogNotifier writes alerts to the log when no topic is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, subject, message string) error {
	n.log.Error("admin alert", zap.String("subject", subject), zap.String("message", message))
	return nil
}
