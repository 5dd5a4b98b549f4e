package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type releasePayload struct {
	OrderID int64 `json:"order_id"`
}

func TestMemoryQueue_RetriesUntilSuccess(t *testing.T) {
	reg := NewRegistry()
	var calls atomic.Int32
	done := make(chan releasePayload, 1)
	reg.Register("inventory.release", func(ctx context.Context, job Job) error {
		if calls.Add(1) < 3 {
			return errors.New("db down")
		}
		var p releasePayload
		require.NoError(t, job.Decode(&p))
		done <- p
		return nil
	})

	q := NewMemoryQueue(reg, zap.NewNop(), 2, 5, 8)
	q.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = q.Run(ctx) }()

	job, err := NewJob("inventory.release", releasePayload{OrderID: 42})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), job))

	select {
	case p := <-done:
		assert.Equal(t, int64(42), p.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	assert.Equal(t, int32(3), calls.Load())

	cancel()
	wg.Wait()
	assert.ErrorIs(t, q.Enqueue(context.Background(), job), ErrQueueClosed)
}

func TestMemoryQueue_DropsAfterMaxRetries(t *testing.T) {
	reg := NewRegistry()
	var calls atomic.Int32
	reg.Register("admin.notify", func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("always")
	})

	q := NewMemoryQueue(reg, zap.NewNop(), 1, 2, 1)
	q.backoff = time.Millisecond
	var dropped []Job
	q.OnDeadLetter(func(_ context.Context, job Job, err error) {
		assert.EqualError(t, err, "always")
		dropped = append(dropped, job)
	})
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() { _ = q.Run(ctx); close(finished) }()

	job, _ := NewJob("admin.notify", map[string]string{"subject": "x"})
	require.NoError(t, q.Enqueue(context.Background(), job))

	// Run は残りを処理してから返る
	cancel()
	<-finished
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, dropped, 1)
	assert.Equal(t, job.ID, dropped[0].ID)
	assert.Equal(t, 3, dropped[0].Attempt)
}

func TestRegistry_UnknownKind(t *testing.T) {
	err := NewRegistry().Dispatch(context.Background(), Job{Kind: "nope"})
	assert.Error(t, err)
}

type SQSMock struct{ mock.Mock }

func (m *SQSMock) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, in)
	return &sqs.SendMessageOutput{}, args.Error(0)
}

func (m *SQSMock) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *SQSMock) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, in)
	return &sqs.DeleteMessageOutput{}, args.Error(0)
}

func TestSQSQueue_Enqueue(t *testing.T) {
	m := new(SQSMock)
	q := NewSQSQueueWithClient(m, "https://sqs.local/q", NewRegistry(), zap.NewNop())
	job, _ := NewJob("cache.invalidate", map[string][]string{"tags": {"order:1"}})

	m.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		var got Job
		return aws.ToString(in.QueueUrl) == "https://sqs.local/q" &&
			json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got) == nil &&
			got.ID == job.ID && got.Kind == "cache.invalidate"
	})).Return(nil).Once()

	require.NoError(t, q.Enqueue(context.Background(), job))
	m.AssertExpectations(t)
}

func TestSQSQueue_PollOnce_DeletesOnlyOnSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func(ctx context.Context, job Job) error { return nil })
	reg.Register("fail", func(ctx context.Context, job Job) error { return errors.New("boom") })

	okBody, _ := json.Marshal(Job{ID: "1", Kind: "ok"})
	failBody, _ := json.Marshal(Job{ID: "2", Kind: "fail"})

	m := new(SQSMock)
	m.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
		Messages: []types.Message{
			{Body: aws.String(string(okBody)), ReceiptHandle: aws.String("r-ok")},
			{Body: aws.String(string(failBody)), ReceiptHandle: aws.String("r-fail")},
			{Body: aws.String("not json"), ReceiptHandle: aws.String("r-bad")},
		},
	}, nil).Once()
	m.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "r-ok"
	})).Return(nil).Once()
	m.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "r-bad"
	})).Return(nil).Once()

	q := NewSQSQueueWithClient(m, "q", reg, zap.NewNop())
	require.NoError(t, q.pollOnce(context.Background()))

	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "DeleteMessage", 2)
}
