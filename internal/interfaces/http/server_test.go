package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/infrastructure/persistence"
	"github.com/ngoclaw/wagent/internal/interfaces/http/handlers"
	"github.com/ngoclaw/wagent/internal/interfaces/http/middleware"
)

type stubAnswerer struct{ answer string }

func (s stubAnswerer) Ask(context.Context, string) (string, error) { return s.answer, nil }

type stubSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubSender) SendText(_ context.Context, _ *entity.ConnectorInstance, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+": "+text)
	return nil
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type inlinePool struct{}

func (inlinePool) Submit(task func(ctx context.Context)) error {
	task(context.Background())
	return nil
}

func (inlinePool) Depth() int { return 0 }

type testServer struct {
	router *gin.Engine
	sender *stubSender
	queue  *usecase.JobQueue
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	events := service.NopPublisher{}

	messages := persistence.NewMemoryMessageRepository()
	connectors := service.NewConnectorRegistry(persistence.NewMemoryConnectorRepository(), events, logger)
	sessions := service.NewSessionManager(persistence.NewMemorySessionRepository(), events, logger)

	inst, err := entity.NewConnectorInstance(entity.ConnectorParams{
		ID:                 "inst-1",
		TenantID:           "tenant-1",
		Name:               "loja",
		ExternalInstanceID: "evo-123",
		PhoneNumber:        "5511911111111",
		IgnoreOwnMessages:  true,
		Status:             entity.ConnectorConnected,
		IsActive:           true,
	})
	require.NoError(t, err)
	require.NoError(t, connectors.Register(context.Background(), inst))

	sender := &stubSender{}
	answerer := stubAnswerer{answer: "Atendemos das 8h às 18h."}
	dispatcher := usecase.NewResponseDispatcher(messages, connectors, sessions, sender, nil, events, logger)
	queue := usecase.NewJobQueue(persistence.NewMemoryJobRepository(), messages, events, logger)
	queue.SetCompletionHandler(dispatcher)
	answers := usecase.NewAnswerWorker(answerer, dispatcher, messages, inlinePool{}, logger)
	ingest := usecase.NewIngestMessageUseCase(usecase.IngestDeps{
		Connectors: connectors,
		Sessions:   sessions,
		Messages:   messages,
		Contacts:   persistence.NewMemoryContactRepository(),
		Policy:     service.CommandHandoffPolicy{},
		Admin:      usecase.NewAdminCommands(connectors, sessions, logger),
		Answers:    answers,
		Jobs:       queue,
		Dispatcher: dispatcher,
		Events:     events,
	}, logger)

	router := NewRouter(Config{JWTSecret: secret}, Handlers{
		Webhook:    handlers.NewWebhookHandler(ingest, handlers.WebhookFilter{IgnoreGroups: true, IgnoreBroadcast: true}, logger),
		Ask:        handlers.NewAskHandler(answerer, logger),
		Jobs:       handlers.NewJobHandler(queue, logger),
		Sessions:   handlers.NewSessionHandler(sessions, messages, logger),
		Connectors: handlers.NewConnectorHandler(connectors, logger),
		Messages:   handlers.NewMessageHandler(messages, dispatcher, logger),
	}, logger)
	return &testServer{router: router, sender: sender, queue: queue}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

const evolutionText = `{"instance":"evo-123","data":{"key":{"id":"WA-1","remoteJid":"5511900000000@s.whatsapp.net"},
	"pushName":"Maria","message":{"conversation":"Qual o horário?"}}}`

func TestWebhook_AnswersAndDeduplicates(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/webhook/evolution", evolutionText, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first handlers.IngestResponse
	decode(t, rec, &first)
	assert.Equal(t, "accepted", first.Status)
	assert.Equal(t, "WA-1", first.MessageID)
	assert.NotEmpty(t, first.SessionID)

	rec = s.do(t, http.MethodPost, "/webhook/evolution", evolutionText, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var second handlers.IngestResponse
	decode(t, rec, &second)
	assert.Equal(t, "duplicate", second.Status)
	assert.Equal(t, 1, s.sender.count())

	rec = s.do(t, http.MethodGet, "/api/v1/messages/WA-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msg handlers.MessageView
	decode(t, rec, &msg)
	assert.Equal(t, "completed", msg.ProcessingStatus)
	require.NotNil(t, msg.Response)
	assert.Equal(t, "Atendemos das 8h às 18h.", *msg.Response)
}

func TestWebhook_IgnoresBroadcastAndGroups(t *testing.T) {
	s := newTestServer(t, "")
	for _, jid := range []string{"status@broadcast", "1203630@g.us"} {
		body := `{"instance":"evo-123","data":{"key":{"id":"X","remoteJid":"` + jid + `"},"message":{"conversation":"x"}}}`
		rec := s.do(t, http.MethodPost, "/webhook/evolution", body, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var res handlers.IngestResponse
		decode(t, rec, &res)
		assert.Equal(t, "ignored", res.Status, jid)
	}
	assert.Zero(t, s.sender.count())
}

func TestEvents_ValidationAndUnknownInstance(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/v1/events", usecase.InboundEvent{InstanceID: "evo-123", Type: "text"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/events", usecase.InboundEvent{
		InstanceID: "nope", FromNumber: "5511900000000", MessageID: "M-1", Type: "text", Content: "oi",
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobs_RemoteWorkerProtocol(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/v1/events", usecase.InboundEvent{
		InstanceID: "evo-123", FromNumber: "5511900000000", MessageID: "IMG-1", Type: "image", MediaRef: "https://cdn/x.jpg",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res handlers.IngestResponse
	decode(t, rec, &res)
	require.NotEmpty(t, res.JobID)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/claim", handlers.ClaimRequest{WorkerID: "remote-1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var task usecase.JobTask
	decode(t, rec, &task)
	assert.Equal(t, res.JobID, task.JobID)
	assert.Equal(t, "https://cdn/x.jpg", task.MediaRef)

	// queue is empty now
	rec = s.do(t, http.MethodPost, "/api/v1/jobs/claim", handlers.ClaimRequest{WorkerID: "remote-2"}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/"+task.JobID+"/complete", handlers.CompleteRequest{Result: "Um recibo."}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job handlers.JobView
	decode(t, rec, &job)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, 1, s.sender.count())

	// second completion is a state conflict
	rec = s.do(t, http.MethodPost, "/api/v1/jobs/"+task.JobID+"/fail", handlers.FailRequest{Reason: "late"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/jobs?status=completed", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs []handlers.JobView `json:"jobs"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Jobs, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/jobs?status=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs_FailThenResubmit(t *testing.T) {
	s := newTestServer(t, "")
	s.do(t, http.MethodPost, "/api/v1/events", usecase.InboundEvent{
		InstanceID: "evo-123", FromNumber: "5511900000000", MessageID: "IMG-2", Type: "image", MediaRef: "https://cdn/y.jpg",
	}, "")
	rec := s.do(t, http.MethodPost, "/api/v1/jobs/claim", handlers.ClaimRequest{WorkerID: "w"}, "")
	var task usecase.JobTask
	decode(t, rec, &task)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/"+task.JobID+"/fail", handlers.FailRequest{Reason: "blurry"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs/"+task.JobID+"/resubmit", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job handlers.JobView
	decode(t, rec, &job)
	assert.Equal(t, "pending", job.Status)
}

func TestSessions_TransitionAndConnectorStatus(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodPost, "/webhook/evolution", evolutionText, "")
	var res handlers.IngestResponse
	decode(t, rec, &res)

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/"+res.SessionID+"/transition", handlers.TransitionRequest{To: "human"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess handlers.SessionView
	decode(t, rec, &sess)
	assert.Equal(t, "human", sess.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/"+res.SessionID+"/transition", handlers.TransitionRequest{To: "closed"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// closed sessions never reopen
	rec = s.do(t, http.MethodPost, "/api/v1/sessions/"+res.SessionID+"/transition", handlers.TransitionRequest{To: "ai"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/sessions/"+res.SessionID+"/messages", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/connectors/inst-1/status", handlers.StatusRequest{Status: "error"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPut, "/api/v1/connectors/inst-1/status", handlers.StatusRequest{Status: "sleeping"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/connectors/inst-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var conn handlers.ConnectorView
	decode(t, rec, &conn)
	assert.Equal(t, "error", conn.Status)
}

func TestResend_WithoutResponse(t *testing.T) {
	s := newTestServer(t, "")
	s.do(t, http.MethodPost, "/api/v1/events", usecase.InboundEvent{
		InstanceID: "evo-123", FromNumber: "5511900000000", MessageID: "IMG-3", Type: "image", MediaRef: "https://cdn/z.jpg",
	}, "")
	rec := s.do(t, http.MethodPost, "/api/v1/messages/IMG-3/resend", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RequiresTokenWhenAuthEnabled(t *testing.T) {
	s := newTestServer(t, "secret")

	rec := s.do(t, http.MethodPost, "/api/v1/ask", handlers.AskRequest{Question: "horário?"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := middleware.GenerateToken("ops", "admin", "secret", time.Minute)
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/api/v1/ask", handlers.AskRequest{Question: "horário?"}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var ans handlers.AskResponse
	decode(t, rec, &ans)
	assert.Equal(t, "Atendemos das 8h às 18h.", ans.Answer)

	// webhook stays open
	rec = s.do(t, http.MethodPost, "/webhook/evolution", evolutionText, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
