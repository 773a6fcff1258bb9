package webhooks

import (
	"context"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"
)

// CloudTasksSender enqueues each delivery as a Cloud Tasks HTTP task, so
// retries and dead-lettering happen at the queue rather than in process.
type CloudTasksSender struct {
	client    *cloudtasks.Client
	queuePath string
	targetURL string
	secret    string
	deadline  time.Duration
	logger    *log.Logger

	createTask func(ctx context.Context, req *taskspb.CreateTaskRequest) (*taskspb.Task, error)
}

// NewCloudTasksSender connects to the queue identified by projectID,
// locationID and queueID. Tasks POST to targetURL.
func NewCloudTasksSender(
	ctx context.Context,
	projectID, locationID, queueID, targetURL, secret string,
	opts ...option.ClientOption,
) (*CloudTasksSender, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	s := &CloudTasksSender{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		targetURL: targetURL,
		secret:    secret,
		deadline:  30 * time.Second,
		logger:    log.New(log.Writer(), "[CLOUD-TASKS] ", log.LstdFlags),
	}
	s.createTask = func(ctx context.Context, req *taskspb.CreateTaskRequest) (*taskspb.Task, error) {
		return client.CreateTask(ctx, req)
	}

	s.logger.Printf("✅ Connected to Cloud Tasks queue: %s", s.queuePath)
	return s, nil
}

// QueuePath returns the fully-qualified queue name.
func (s *CloudTasksSender) QueuePath() string { return s.queuePath }

// Deliver enqueues one HTTP task carrying payload.
func (s *CloudTasksSender) Deliver(ctx context.Context, eventType, eventID string, payload []byte) error {
	req := &taskspb.CreateTaskRequest{
		Parent: s.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        s.targetURL,
					Headers:    deliveryHeaders(eventType, eventID, s.secret, payload),
					Body:       payload,
				},
			},
			DispatchDeadline: durationpb.New(s.deadline),
		},
	}

	task, err := s.createTask(ctx, req)
	if err != nil {
		return fmt.Errorf("cloud task enqueue %s → %s: %w", eventID, s.targetURL, err)
	}
	s.logger.Printf("📤 Enqueued Cloud Task: %s → %s (task=%s)", eventID, s.targetURL, task.GetName())
	return nil
}

// Close shuts down the Cloud Tasks client.
func (s *CloudTasksSender) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
