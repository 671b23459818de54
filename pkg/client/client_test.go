package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

// fakeGateway 模拟任务接口: 一个待领取任务，完成一次后再次提交返回冲突
func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	claimed := false
	completed := false
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/claim", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "remote-1", req["worker_id"])
		if claimed {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		claimed = true
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":         "job-1",
			"message_id":     "IMG-1",
			"processor_type": "vision_caption",
			"message_type":   "image",
			"media_ref":      "https://cdn/x.jpg",
			"attempts":       1,
		})
	})
	mux.HandleFunc("/api/v1/jobs/job-1/complete", func(w http.ResponseWriter, r *http.Request) {
		if completed {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"job is not processing"}`))
			return
		}
		completed = true
		_, _ = w.Write([]byte(`{"id":"job-1","status":"completed"}`))
	})
	mux.HandleFunc("/api/v1/jobs/missing/fail", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"job not found"}`))
	})
	mux.HandleFunc("/api/v1/ask", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"Das 8h às 18h."}`))
	})
	return httptest.NewServer(mux)
}

func TestClient_ClaimCompleteCycle(t *testing.T) {
	srv := fakeGateway(t)
	defer srv.Close()
	c := NewClient(srv.URL+"/", WithToken("tok"))
	ctx := context.Background()

	task, err := c.Claim(ctx, "remote-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "job-1", task.JobID)
	assert.Equal(t, "https://cdn/x.jpg", task.MediaRef)
	assert.Equal(t, 1, task.Attempts)

	empty, err := c.Claim(ctx, "remote-1")
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.NoError(t, c.Complete(ctx, "job-1", "Um recibo."))
	err = c.Complete(ctx, "job-1", "again")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Contains(t, err.Error(), "job is not processing")
}

func TestClient_ErrorMapping(t *testing.T) {
	srv := fakeGateway(t)
	defer srv.Close()
	c := NewClient(srv.URL, WithToken("tok"))

	err := c.Fail(context.Background(), "missing", "boom")
	assert.True(t, apperrors.IsNotFound(err))

	answer, err := c.Ask(context.Background(), "horário?")
	require.NoError(t, err)
	assert.Equal(t, "Das 8h às 18h.", answer)
}

func TestClient_Unreachable(t *testing.T) {
	srv := fakeGateway(t)
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Claim(context.Background(), "remote-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeServiceUnavail, apperrors.CodeOf(err))
}
