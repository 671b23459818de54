package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

func TestIngest_ValidationFailsFast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		ev   usecase.InboundEvent
	}{
		{"missing message id", usecase.InboundEvent{InstanceID: "evo-123", FromNumber: contactNumber, Type: "text", Content: "oi"}},
		{"missing instance", usecase.InboundEvent{MessageID: "A", FromNumber: contactNumber, Type: "text", Content: "oi"}},
		{"missing from", usecase.InboundEvent{MessageID: "A", InstanceID: "evo-123", Type: "text", Content: "oi"}},
		{"missing type", usecase.InboundEvent{MessageID: "A", InstanceID: "evo-123", FromNumber: contactNumber}},
		{"text without content", usecase.InboundEvent{MessageID: "A", InstanceID: "evo-123", FromNumber: contactNumber, Type: "text"}},
		{"from without digits", usecase.InboundEvent{MessageID: "A", InstanceID: "evo-123", FromNumber: "abc@s.whatsapp.net", Type: "text", Content: "oi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ingest.Execute(ctx, tc.ev)
			if !errors.Is(err, usecase.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if _, err := f.messages.FindByMessageID(ctx, "A"); !apperrors.IsNotFound(err) {
		t.Errorf("invalid events must not be persisted, got %v", err)
	}
}

func TestIngest_UnknownInstance(t *testing.T) {
	f := newFixture(t)
	ev := textEvent("A", contactNumber, "oi")
	ev.InstanceID = "nope"

	_, err := f.ingest.Execute(context.Background(), ev)
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIngest_TextAnsweredByAI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ingest.Execute(ctx, textEvent("MSG-1", contactNumber, "Qual o horário de atendimento?"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != usecase.IngestAccepted || res.Reason != usecase.ReasonAnswerQueued {
		t.Fatalf("result = %s/%s", res.Outcome, res.Reason)
	}
	if res.Session == nil || !res.Session.IsAIHandled() {
		t.Fatal("new session should start AI-handled")
	}

	msg := f.message(t, "MSG-1")
	if msg.ProcessingStatus() != valueobject.ProcessingCompleted {
		t.Fatalf("status = %s (kind %q)", msg.ProcessingStatus(), msg.ErrorKind())
	}
	if r, ok := msg.Response(); !ok || r != "Atendemos das 8h às 18h." {
		t.Errorf("response = %q", r)
	}
	if sent := f.sender.Sent(); len(sent) != 1 || sent[0] != contactNumber+": Atendemos das 8h às 18h." {
		t.Errorf("sent = %v", sent)
	}
	if f.events.Count(entity.EventMessageAnswered) != 1 {
		t.Error("expected one answered event")
	}

	contact, err := f.contacts.FindByPhone(ctx, "inst-1", contactNumber)
	if err != nil || contact.TotalMessages() != 1 {
		t.Errorf("contact = %v, %v", contact, err)
	}
}

func TestIngest_TextAnsweredFromKnowledgeBase(t *testing.T) {
	f := newFixture(t)
	engine := newKnowledgeEngine(t,
		knowledge.Document{Source: "faq.txt", Text: "Entregamos em todo o Brasil.\nNosso horário de atendimento é de segunda a sexta, das 9h às 17h."},
	)
	f.answers = usecase.NewAnswerWorker(engine, f.dispatcher, f.messages, f.pool, zapNop())
	f.rebuildIngest()

	if _, err := f.ingest.Execute(context.Background(), textEvent("MSG-KB", contactNumber, "Qual o horário de atendimento?")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	msg := f.message(t, "MSG-KB")
	r, ok := msg.Response()
	if msg.ProcessingStatus() != valueobject.ProcessingCompleted || !ok {
		t.Fatalf("status = %s", msg.ProcessingStatus())
	}
	if want := "das 9h às 17h"; !contains(r, want) {
		t.Errorf("response %q should contain %q", r, want)
	}
}

func TestIngest_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ingest.Execute(ctx, textEvent("DUP-1", contactNumber, "oi"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.ingest.Execute(ctx, textEvent("DUP-1", contactNumber, "outra coisa"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Outcome != usecase.IngestDuplicate {
		t.Fatalf("second outcome = %s", second.Outcome)
	}
	if second.Message.Content() != "oi" || second.Message.SessionID() != first.Message.SessionID() {
		t.Error("duplicate must return the stored record unmodified")
	}
	if n := len(f.answerer.questions); n != 1 {
		t.Errorf("answered %d times, want 1", n)
	}
	if n, _ := f.messages.CountBySession(ctx, first.Session.ID()); n != 1 {
		t.Errorf("messages in session = %d", n)
	}
}

func TestIngest_ConcurrentDuplicatesAndFirstContact(t *testing.T) {
	f := newFixture(t)
	f.pool.full = true // keep answers out of the picture
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make([]*usecase.IngestResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// half the events share one id, the rest are distinct first-contact messages
			id := "SAME"
			if i%2 == 1 {
				id = fmt.Sprintf("MSG-%d", i)
			}
			res, err := f.ingest.Execute(ctx, textEvent(id, contactNumber, "oi"))
			if err != nil {
				t.Errorf("Execute: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	accepted := 0
	sessions := map[string]bool{}
	for i, res := range results {
		if res == nil {
			continue
		}
		if i%2 == 0 && res.Outcome == usecase.IngestAccepted {
			accepted++
		}
		if res.Message != nil {
			sessions[res.Message.SessionID()] = true
		}
	}
	if accepted != 1 {
		t.Errorf("shared id accepted %d times, want 1", accepted)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want exactly 1", len(sessions))
	}
	if f.events.Count(entity.EventSessionCreated) != 1 {
		t.Errorf("session.created published %d times", f.events.Count(entity.EventSessionCreated))
	}
}

func TestIngest_Authorization(t *testing.T) {
	f := newFixture(t, withAllowList(contactNumber))
	ctx := context.Background()

	res, err := f.ingest.Execute(ctx, textEvent("X-1", "5511999999999", "oi"))
	if err != nil {
		t.Fatalf("unauthorized sender is not an error: %v", err)
	}
	if res.Outcome != usecase.IngestDropped || res.Reason != usecase.ReasonUnauthorized {
		t.Errorf("result = %s/%s", res.Outcome, res.Reason)
	}
	if _, err := f.messages.FindByMessageID(ctx, "X-1"); !apperrors.IsNotFound(err) {
		t.Error("dropped event must not be persisted")
	}

	// redelivery is short-circuited by the dedupe cache
	again, _ := f.ingest.Execute(ctx, textEvent("X-1", "5511999999999", "oi"))
	if again.Outcome != usecase.IngestDuplicate || again.Reason != usecase.ReasonRecentlySeen {
		t.Errorf("redelivery = %s/%s", again.Outcome, again.Reason)
	}

	ok, err := f.ingest.Execute(ctx, textEvent("X-2", contactNumber, "oi"))
	if err != nil || ok.Outcome != usecase.IngestAccepted {
		t.Errorf("allow-listed sender: %v, %v", ok, err)
	}
}

func TestIngest_IgnoresOwnProfile(t *testing.T) {
	f := newFixture(t)
	ev := textEvent("OWN-1", contactNumber, "mensagem enviada pelo celular")
	ev.FromMe = true

	res, err := f.ingest.Execute(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != usecase.IngestDropped || res.Reason != usecase.ReasonOwnMessage {
		t.Errorf("result = %s/%s", res.Outcome, res.Reason)
	}
}

func TestIngest_HumanSessionStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.ingest.Execute(ctx, textEvent("H-1", contactNumber, "quero falar com um atendente"))
	if first.Session.Status() != entity.SessionHuman {
		t.Fatalf("keyword should hand the session to a human, got %s", first.Session.Status())
	}
	if first.Reason != usecase.ReasonHumanSession {
		t.Errorf("reason = %s", first.Reason)
	}

	if _, err := f.ingest.Execute(ctx, textEvent("H-2", contactNumber, "alô?")); err != nil {
		t.Fatal(err)
	}
	if got := f.message(t, "H-2").ProcessingStatus(); got != valueobject.ProcessingPending {
		t.Errorf("status = %s, want pending", got)
	}
	if len(f.answerer.questions) != 0 {
		t.Error("human-handled session must not be auto-answered")
	}
}

func TestIngest_HandoffWhileAnswerQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := &DeferredPool{}
	f.answers = usecase.NewAnswerWorker(f.answerer, f.dispatcher, f.messages, pool, zapNop())
	f.rebuildIngest()

	res, err := f.ingest.Execute(ctx, textEvent("Q-1", contactNumber, "qual o horário?"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != usecase.ReasonAnswerQueued || pool.Depth() != 1 {
		t.Fatalf("reason = %s, queued = %d", res.Reason, pool.Depth())
	}

	if _, err := f.sessions.TransitionToHuman(ctx, res.Session.ID()); err != nil {
		t.Fatal(err)
	}
	pool.Drain()

	if sent := f.sender.Sent(); len(sent) != 0 {
		t.Errorf("no reply expected after handoff, sent %v", sent)
	}
	msg := f.message(t, "Q-1")
	if msg.ProcessingStatus() != valueobject.ProcessingCompleted {
		t.Errorf("status = %s, want completed", msg.ProcessingStatus())
	}
	if resp, ok := msg.Response(); !ok || resp != "Atendemos das 8h às 18h." {
		t.Errorf("response = %q, %v", resp, ok)
	}
	if f.events.Count(entity.EventMessageAnswered) != 0 {
		t.Error("answered event must not be published for an unsent reply")
	}
}

func TestIngest_InactiveInstanceRecordsOnly(t *testing.T) {
	f := newFixture(t, inactive())
	res, err := f.ingest.Execute(context.Background(), textEvent("I-1", contactNumber, "oi"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != usecase.ReasonInactive {
		t.Errorf("reason = %s", res.Reason)
	}
	msg := f.message(t, "I-1")
	if !msg.ReceivedWhileInactive() || msg.ProcessingStatus() != valueobject.ProcessingPending {
		t.Errorf("inactive=%v status=%s", msg.ReceivedWhileInactive(), msg.ProcessingStatus())
	}
}

func TestIngest_DisconnectedInstanceStillAnswers(t *testing.T) {
	f := newFixture(t, withStatus(entity.ConnectorConnecting))
	if _, err := f.ingest.Execute(context.Background(), textEvent("D-1", contactNumber, "oi")); err != nil {
		t.Fatal(err)
	}
	msg := f.message(t, "D-1")
	if !msg.ReceivedWhileInactive() {
		t.Error("status != connected must tag receivedWhileInactive")
	}
	if msg.ProcessingStatus() != valueobject.ProcessingCompleted {
		t.Errorf("status = %s", msg.ProcessingStatus())
	}
}

func TestIngest_QueueFullMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.pool.full = true

	res, err := f.ingest.Execute(context.Background(), textEvent("Q-1", contactNumber, "oi"))
	if err != nil {
		t.Fatalf("routing failure must not surface: %v", err)
	}
	if res.Reason != usecase.ReasonRoutingFailure {
		t.Errorf("reason = %s", res.Reason)
	}
	msg := f.message(t, "Q-1")
	if msg.ProcessingStatus() != valueobject.ProcessingFailed || msg.ErrorKind() != valueobject.ErrorKindQueueFull {
		t.Errorf("status=%s kind=%s", msg.ProcessingStatus(), msg.ErrorKind())
	}
}

func TestIngest_GenerationFailureRecorded(t *testing.T) {
	f := newFixture(t)
	f.answerer.err = fmt.Errorf("%w: boom", knowledge.ErrRetrievalUnavailable)

	if _, err := f.ingest.Execute(context.Background(), textEvent("G-1", contactNumber, "oi")); err != nil {
		t.Fatal(err)
	}
	msg := f.message(t, "G-1")
	if msg.ProcessingStatus() != valueobject.ProcessingFailed || msg.ErrorKind() != valueobject.ErrorKindRetrieval {
		t.Errorf("status=%s kind=%s", msg.ProcessingStatus(), msg.ErrorKind())
	}
	if f.events.Count(entity.EventMessageFailed) != 1 {
		t.Error("failure should be published")
	}
}

func TestIngest_MediaCreatesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ingest.Execute(ctx, mediaEvent("IMG-1", contactNumber, valueobject.MessageTypeImage))
	if err != nil {
		t.Fatal(err)
	}
	if res.Job == nil || res.Job.Status() != entity.JobPending {
		t.Fatalf("job = %+v", res.Job)
	}
	if res.Job.ProcessorType() != valueobject.ProcessorVisionCaption {
		t.Errorf("processor = %s", res.Job.ProcessorType())
	}
	if got := f.message(t, "IMG-1").ProcessingStatus(); got != valueobject.ProcessingProcessing {
		t.Errorf("message status = %s", got)
	}
	pending, _ := f.queue.List(ctx, entity.JobPending, 10)
	if len(pending) != 1 {
		t.Errorf("pending jobs = %d, want 1", len(pending))
	}
}

func TestIngest_MediaVariants(t *testing.T) {
	tests := []struct {
		name      string
		rawType   string
		mediaRef  string
		wantType  valueobject.MessageType
		processor valueobject.ProcessorType
	}{
		{"video stored as other", "video", "https://cdn.example.com/v.mp4", valueobject.MessageTypeOther, valueobject.ProcessorVisionCaption},
		{"document stored as other", "document", "https://cdn.example.com/d.pdf", valueobject.MessageTypeOther, valueobject.ProcessorOCR},
		{"audio", "audio", "https://cdn.example.com/a.ogg", valueobject.MessageTypeAudio, valueobject.ProcessorAudioTranscription},
		{"location without media", "location", "", valueobject.MessageTypeOther, ""},
		{"reaction without media", "reaction", "", valueobject.MessageTypeOther, ""},
		{"video without media", "video", "", valueobject.MessageTypeOther, ""},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			id := fmt.Sprintf("MEDIA-%d", i)

			res, err := f.ingest.Execute(ctx, usecase.InboundEvent{
				InstanceID: "evo-123",
				FromNumber: contactNumber,
				MessageID:  id,
				Type:       tt.rawType,
				MediaRef:   tt.mediaRef,
				SenderName: "Maria",
			})
			if err != nil {
				t.Fatal(err)
			}
			msg := f.message(t, id)
			if msg.Type() != tt.wantType {
				t.Errorf("stored type = %q, want %q", msg.Type(), tt.wantType)
			}

			jobs, _ := f.queue.List(ctx, entity.JobPending, 10)
			if tt.processor == "" {
				if res.Job != nil || len(jobs) != 0 {
					t.Fatalf("no job expected, got %d", len(jobs))
				}
				if res.Reason != usecase.ReasonNoMedia {
					t.Errorf("reason = %q", res.Reason)
				}
				if msg.ProcessingStatus() != valueobject.ProcessingPending {
					t.Errorf("message status = %s, want pending", msg.ProcessingStatus())
				}
				return
			}
			if res.Job == nil || len(jobs) != 1 {
				t.Fatalf("expected one pending job, got %d", len(jobs))
			}
			if res.Job.ProcessorType() != tt.processor {
				t.Errorf("processor = %s, want %s", res.Job.ProcessorType(), tt.processor)
			}
		})
	}
}

func TestIngest_OwnerCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ingest.Execute(ctx, textEvent("C-0", contactNumber, "oi")); err != nil {
		t.Fatal(err)
	}

	cmd := textEvent("C-1", ownerNumber, "<<< "+contactNumber)
	res, err := f.ingest.Execute(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != usecase.IngestCommand {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Reply != "Atendimento de "+contactNumber+" transferido para humano." {
		t.Errorf("reply = %q", res.Reply)
	}
	session, err := f.sessions.FindActive(ctx, "inst-1", contactNumber)
	if err != nil || session.Status() != entity.SessionHuman {
		t.Fatalf("session = %v, %v", session, err)
	}
	stored := f.message(t, "C-1")
	if stored.Source() != valueobject.SourceSystem || stored.SessionID() != "" {
		t.Errorf("command stored as %s in session %q", stored.Source(), stored.SessionID())
	}

	if _, err := f.ingest.Execute(ctx, textEvent("C-2", ownerNumber, "desativar")); err != nil {
		t.Fatal(err)
	}
	inst, _ := f.connectors.Resolve(ctx, "inst-1")
	if inst.IsActive() {
		t.Error("desativar should deactivate the instance")
	}
}
