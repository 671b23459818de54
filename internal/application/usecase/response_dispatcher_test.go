package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

func TestDispatcher_SendFailureRetainsResponse(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("evolution API error 503")
	ctx := context.Background()

	if _, err := f.ingest.Execute(ctx, textEvent("S-1", contactNumber, "oi")); err != nil {
		t.Fatal(err)
	}
	msg := f.message(t, "S-1")
	if msg.ProcessingStatus() != valueobject.ProcessingFailed || msg.ErrorKind() != valueobject.ErrorKindSendFailed {
		t.Fatalf("status=%s kind=%s", msg.ProcessingStatus(), msg.ErrorKind())
	}
	if r, ok := msg.Response(); !ok || r != "Atendemos das 8h às 18h." {
		t.Errorf("response must be retained, got %q", r)
	}
	if f.events.Count(entity.EventSendFailed) != 1 {
		t.Error("send failure must be surfaced as an event")
	}

	// transport recovers, operator resends
	f.sender.err = nil
	resent, err := f.dispatcher.Resend(ctx, "S-1")
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if resent.ProcessingStatus() != valueobject.ProcessingCompleted {
		t.Errorf("status after resend = %s", resent.ProcessingStatus())
	}
	if len(f.sender.Sent()) != 1 {
		t.Errorf("sent = %v", f.sender.Sent())
	}
}

func TestDispatcher_ResendWithoutResponse(t *testing.T) {
	f := newFixture(t)
	f.pool.full = true
	ctx := context.Background()
	if _, err := f.ingest.Execute(ctx, textEvent("R-1", contactNumber, "oi")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.dispatcher.Resend(ctx, "R-1"); !apperrors.IsInvalidInput(err) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestDispatcher_TranscriptionAnswered(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.SetTranscriptionAnswerer(f.answerer)
	ctx := context.Background()

	res, err := f.ingest.Execute(ctx, mediaEvent("AUD-1", contactNumber, valueobject.MessageTypeAudio))
	if err != nil {
		t.Fatal(err)
	}
	if res.Job.ProcessorType() != valueobject.ProcessorAudioTranscription {
		t.Fatalf("processor = %s", res.Job.ProcessorType())
	}
	if _, err := f.queue.ClaimNext(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.Complete(ctx, res.Job.ID(), "que horas vocês abrem?"); err != nil {
		t.Fatal(err)
	}

	if q := f.answerer.questions; len(q) != 1 || q[0] != "que horas vocês abrem?" {
		t.Errorf("questions = %v", q)
	}
	if r, _ := f.message(t, "AUD-1").Response(); r != "Atendemos das 8h às 18h." {
		t.Errorf("response = %q", r)
	}
}

func TestFailureKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: dial tcp", knowledge.ErrRetrievalUnavailable), valueobject.ErrorKindRetrieval},
		{fmt.Errorf("%w: %w", knowledge.ErrGenerationFailed, context.DeadlineExceeded), valueobject.ErrorKindTimeout},
		{fmt.Errorf("%w: %w", knowledge.ErrGenerationFailed, &service.LLMError{Kind: service.ErrKindTimeout, Message: "slow"}), valueobject.ErrorKindTimeout},
		{fmt.Errorf("%w: 500", knowledge.ErrGenerationFailed), valueobject.ErrorKindGeneration},
	}
	for _, tc := range cases {
		if got := usecase.FailureKind(tc.err); got != tc.want {
			t.Errorf("FailureKind(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestParseFacts(t *testing.T) {
	got := usecase.ParseFacts("- Nome: Maria\n- Pedido 123\nNONE\n-   \n- none")
	if len(got) != 2 || got[0] != "Nome: Maria" || got[1] != "Pedido 123" {
		t.Errorf("facts = %v", got)
	}
	if usecase.ParseFacts("NONE") != nil {
		t.Error("NONE yields no facts")
	}
}
