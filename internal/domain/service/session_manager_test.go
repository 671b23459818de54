package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*entity.ChatSession
	active   map[string]string
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[string]*entity.ChatSession),
		active:   make(map[string]string),
	}
}

func (r *fakeSessionRepo) copyOf(s *entity.ChatSession) *entity.ChatSession {
	return entity.ReconstructChatSession(s.ID(), s.InstanceID(), s.FromNumber(), s.ToNumber(),
		s.Status(), s.ContactSummary(), s.CreatedAt(), s.UpdatedAt(), s.ClosedAt())
}

func (r *fakeSessionRepo) GetOrCreateActive(_ context.Context, c *entity.ChatSession) (*entity.ChatSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.active[c.ActiveKey()]; ok {
		return r.copyOf(r.sessions[id]), false, nil
	}
	r.sessions[c.ID()] = r.copyOf(c)
	r.active[c.ActiveKey()] = c.ID()
	return r.copyOf(c), true, nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, id string) (*entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("session not found")
	}
	return r.copyOf(s), nil
}

func (r *fakeSessionRepo) FindActive(_ context.Context, instanceID, from string) (*entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[entity.SessionActiveKey(instanceID, from)]
	if !ok {
		return nil, apperrors.NewNotFoundError("session not found")
	}
	return r.copyOf(r.sessions[id]), nil
}

func (r *fakeSessionRepo) CompareAndSetStatus(_ context.Context, id string, from, to entity.SessionStatus, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return apperrors.NewNotFoundError("session not found")
	}
	if s.Status() != from {
		return fmt.Errorf("%w: status changed", entity.ErrInvalidSessionTransition)
	}
	key := s.ActiveKey()
	if err := s.Transition(to, now); err != nil {
		return err
	}
	if to == entity.SessionClosed {
		delete(r.active, key)
	}
	return nil
}

func (r *fakeSessionRepo) AppendContactSummary(_ context.Context, id string, facts []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return "", apperrors.NewNotFoundError("session not found")
	}
	s.MergeContactSummary(facts)
	return s.ContactSummary(), nil
}

func (r *fakeSessionRepo) Touch(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Touch(now)
	}
	return nil
}

func (r *fakeSessionRepo) ListIdle(_ context.Context, before time.Time, _ int) ([]*entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ChatSession
	for _, s := range r.sessions {
		if !s.IsClosed() && s.UpdatedAt().Before(before) {
			out = append(out, r.copyOf(s))
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) ListByInstance(context.Context, string, entity.SessionStatus, int, int) ([]*entity.ChatSession, error) {
	return nil, nil
}

func TestSessionManager_ConcurrentFirstContact(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &recordingPublisher{}
	mgr := NewSessionManager(repo, pub, zap.NewNop())

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _, err := mgr.GetOrCreateSession(context.Background(), "inst-1", "5511999999999@s.whatsapp.net", "5511911111111")
			if err != nil {
				t.Error(err)
				return
			}
			ids <- s.ID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(seen))
	}
	if pub.count(entity.EventSessionCreated) != 1 {
		t.Errorf("session.created published %d times", pub.count(entity.EventSessionCreated))
	}
}

func TestSessionManager_ClosedIsNotReopened(t *testing.T) {
	mgr := NewSessionManager(newFakeSessionRepo(), nil, zap.NewNop())
	ctx := context.Background()

	first, _, _ := mgr.GetOrCreateSession(ctx, "inst-1", "5511999999999", "")
	if _, err := mgr.TransitionToHuman(ctx, first.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Close(ctx, first.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.TransitionToAI(ctx, first.ID()); !errors.Is(err, entity.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}

	second, created, err := mgr.GetOrCreateSession(ctx, "inst-1", "5511999999999", "")
	if err != nil {
		t.Fatal(err)
	}
	if !created || second.ID() == first.ID() {
		t.Error("message after close must open a new session")
	}
	if second.Status() != entity.SessionAI {
		t.Errorf("new session status = %s", second.Status())
	}
}

func TestSessionManager_TransitionByNumber(t *testing.T) {
	pub := &recordingPublisher{}
	mgr := NewSessionManager(newFakeSessionRepo(), pub, zap.NewNop())
	ctx := context.Background()

	_, _, _ = mgr.GetOrCreateSession(ctx, "inst-1", "5511999999999", "")
	s, err := mgr.TransitionByNumber(ctx, "inst-1", "+55 11 99999-9999", entity.SessionHuman, "owner_command")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status() != entity.SessionHuman {
		t.Errorf("status = %s", s.Status())
	}
	if _, err := mgr.TransitionByNumber(ctx, "inst-1", "5511000000000", entity.SessionHuman, ""); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if pub.count(entity.EventSessionTransition) != 1 {
		t.Error("transition event not published")
	}
}

func TestSessionManager_MergeAndCloseIdle(t *testing.T) {
	repo := newFakeSessionRepo()
	mgr := NewSessionManager(repo, nil, zap.NewNop())
	ctx := context.Background()

	s, _, _ := mgr.GetOrCreateSession(ctx, "inst-1", "5511999999999", "")
	summary, err := mgr.MergeContactSummary(ctx, s.ID(), []string{"Nome: Ana"})
	if err != nil || summary != "Nome: Ana" {
		t.Fatalf("summary = %q, err = %v", summary, err)
	}
	summary, _ = mgr.MergeContactSummary(ctx, s.ID(), []string{"Mora em Campinas"})
	if summary != "Nome: Ana\nMora em Campinas" {
		t.Errorf("summary = %q", summary)
	}

	mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	closed, err := mgr.CloseIdle(ctx, time.Hour, 10)
	if err != nil {
		t.Fatal(err)
	}
	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}
	if _, err := mgr.FindActive(ctx, "inst-1", "5511999999999"); !apperrors.IsNotFound(err) {
		t.Error("idle session should be closed")
	}
}
