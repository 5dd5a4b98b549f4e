package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type SNSMock struct{ mock.Mock }

func (m *SNSMock) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, in)
	return &sns.PublishOutput{}, args.Error(0)
}

func TestSNSNotifier_Publish(t *testing.T) {
	m := new(SNSMock)
	n := NewSNSNotifierWithClient(m, "arn:aws:sns:ap-northeast-1:1:alerts", zap.NewNop())

	m.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		var a alert
		if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &a); err != nil {
			return false
		}
		return aws.ToString(in.TopicArn) == "arn:aws:sns:ap-northeast-1:1:alerts" &&
			a.Subject == "webhook failed" && a.Message == "order ORD-1"
	})).Return(nil).Once()

	require.NoError(t, n.Notify(context.Background(), "webhook failed", "order ORD-1"))
	m.AssertExpectations(t)
}

func TestSNSNotifier_Errors(t *testing.T) {
	m := new(SNSMock)
	m.On("Publish", mock.Anything, mock.Anything).Return(errors.New("throttled")).Once()

	err := NewSNSNotifierWithClient(m, "arn:x", zap.NewNop()).Notify(context.Background(), strings.Repeat("s", 150), "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")

	err = NewSNSNotifierWithClient(m, "", zap.NewNop()).Notify(context.Background(), "s", "m")
	assert.Error(t, err)
}
