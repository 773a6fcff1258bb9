package webhooks

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"decision":"DENY"}`)
	sig := SignPayload(payload, "s3cret")
	assert.Len(t, sig, 64)

	assert.True(t, VerifySignature(payload, "s3cret", "sha256="+sig))
	assert.False(t, VerifySignature(payload, "other", "sha256="+sig))
	assert.False(t, VerifySignature(payload, "s3cret", sig))
}

func TestSender_DeliversSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "s3cret", time.Second)
	payload := []byte(`{"action":"approve_loan"}`)
	require.NoError(t, s.Deliver(context.Background(), "uaal.decision.deny", "evt-1", payload))

	assert.Equal(t, payload, gotBody)
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "uaal.decision.deny", gotHeader.Get(HeaderEventType))
	assert.Equal(t, "evt-1", gotHeader.Get(HeaderEventID))
	assert.True(t, VerifySignature(payload, "s3cret", gotHeader.Get(HeaderSignature)))
}

func TestSender_UnsignedWithoutSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(HeaderSignature))
	}))
	defer srv.Close()

	require.NoError(t, NewSender(srv.URL, "", time.Second).Deliver(context.Background(), "t", "id", []byte("{}")))
}

func TestSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewSender(srv.URL, "", time.Second).Deliver(context.Background(), "t", "id", []byte("{}"))
	assert.ErrorContains(t, err, "502")
}

func TestSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewSender(srv.URL, "", 50*time.Millisecond).Deliver(context.Background(), "t", "id", []byte("{}"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCloudTasksSender_BuildsHTTPTask(t *testing.T) {
	var captured *taskspb.CreateTaskRequest
	s := &CloudTasksSender{
		queuePath: "projects/p/locations/us-central1/queues/uaal",
		targetURL: "https://hooks.example.com/uaal",
		secret:    "s3cret",
		deadline:  30 * time.Second,
		logger:    log.New(io.Discard, "", 0),
		createTask: func(_ context.Context, req *taskspb.CreateTaskRequest) (*taskspb.Task, error) {
			captured = req
			return &taskspb.Task{Name: req.Parent + "/tasks/1"}, nil
		},
	}

	payload := []byte(`{"decision":"DENY"}`)
	require.NoError(t, s.Deliver(context.Background(), "uaal.decision.deny", "evt-9", payload))
	require.NotNil(t, captured)

	assert.Equal(t, s.QueuePath(), captured.Parent)
	httpReq := captured.Task.GetHttpRequest()
	require.NotNil(t, httpReq)
	assert.Equal(t, taskspb.HttpMethod_POST, httpReq.HttpMethod)
	assert.Equal(t, "https://hooks.example.com/uaal", httpReq.Url)
	assert.Equal(t, payload, httpReq.Body)
	assert.Equal(t, "evt-9", httpReq.Headers[HeaderEventID])
	assert.True(t, VerifySignature(payload, "s3cret", httpReq.Headers[HeaderSignature]))
	assert.Equal(t, 30*time.Second, captured.Task.DispatchDeadline.AsDuration())
	assert.NoError(t, s.Close())
}

func TestCloudTasksSender_EnqueueError(t *testing.T) {
	s := &CloudTasksSender{
		logger: log.New(io.Discard, "", 0),
		createTask: func(context.Context, *taskspb.CreateTaskRequest) (*taskspb.Task, error) {
			return nil, errors.New("queue paused")
		},
	}
	assert.ErrorContains(t, s.Deliver(context.Background(), "t", "id", nil), "queue paused")
}
