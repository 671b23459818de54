package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
)

func newInstance(t *testing.T, apiURL, apiKey string) *entity.ConnectorInstance {
	t.Helper()
	inst, err := entity.NewConnectorInstance(entity.ConnectorParams{
		ID:       "inst-1",
		TenantID: "tenant",
		Name:     "clinica",
		APIURL:   apiURL,
		APIKey:   apiKey,
	})
	if err != nil {
		t.Fatalf("NewConnectorInstance: %v", err)
	}
	return inst
}

func TestEvolutionSender_SendText(t *testing.T) {
	var gotPath, gotKey string
	var got sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"key":{"id":"OUT1"}}`))
	}))
	defer srv.Close()

	s := NewEvolutionSender(config.EvolutionConfig{}, zap.NewNop())
	err := s.SendText(context.Background(), newInstance(t, srv.URL+"/", "secret"), "5511999999999", "Olá")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/message/sendText/clinica" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("apikey = %q", gotKey)
	}
	if got.Number != "5511999999999" || got.Text != "Olá" {
		t.Errorf("body = %+v", got)
	}
}

func TestEvolutionSender_FallsBackToGlobalConfig(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apikey")
	}))
	defer srv.Close()

	s := NewEvolutionSender(config.EvolutionConfig{BaseURL: srv.URL, APIKey: "global"}, zap.NewNop())
	if err := s.SendText(context.Background(), newInstance(t, "", ""), "1", "x"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotKey != "global" {
		t.Errorf("apikey = %q, want global", gotKey)
	}
}

func TestEvolutionSender_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance not connected", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewEvolutionSender(config.EvolutionConfig{}, zap.NewNop())
	err := s.SendText(context.Background(), newInstance(t, srv.URL, ""), "1", "x")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}

	err = s.SendText(context.Background(), newInstance(t, "", ""), "1", "x")
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
}
