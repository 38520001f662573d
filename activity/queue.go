package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// QueueSink writes events to an Azure storage queue.
type QueueSink struct {
	queue *azqueue.QueueClient
}

func NewQueueSink(connStr, queueName string) (*QueueSink, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueSink{queue: q}, nil
}

func (s *QueueSink) Send(ctx context.Context, ev domain.Event) error {
	msg, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.queue.EnqueueMessage(ctx, msg, nil)
	return err
}

func encodeEvent(ev domain.Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LogSink writes events to the logger. It is used when no queue is
// configured.
type LogSink struct {
	Log *log.Logger
}

func (s LogSink) Send(_ context.Context, ev domain.Event) error {
	s.Log.WithFields(log.Fields{
		"event":  ev.ID,
		"type":   ev.Type,
		"entity": ev.EntityID,
		"user":   ev.UserID,
	}).Debug("activity")
	return nil
}
