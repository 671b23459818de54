package service

import (
	"testing"

	"github.com/ngoclaw/wagent/internal/domain/entity"
)

func ownerInstance(t *testing.T) *entity.ConnectorInstance {
	t.Helper()
	inst, err := entity.NewConnectorInstance(entity.ConnectorParams{
		ID:          "inst-1",
		TenantID:    "tenant-1",
		Name:        "loja",
		PhoneNumber: "5511911111111",
		ProfileName: "Loja Centro",
		IsActive:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestCommandHandoffPolicy(t *testing.T) {
	inst := ownerInstance(t)
	owner := "5511911111111@s.whatsapp.net"

	tests := []struct {
		name    string
		from    string
		content string
		want    HandoffDecision
	}{
		{"to human with number", owner, "<<< +55 11 99999-9999", HandoffDecision{HandoffToHuman, "5511999999999", true}},
		{"to ai own session", owner, ">>>", HandoffDecision{HandoffToAI, "5511911111111", true}},
		{"to ai with number", owner, ">>> 5511999999999", HandoffDecision{HandoffToAI, "5511999999999", true}},
		{"close brackets", owner, "[] 5511999999999", HandoffDecision{HandoffClose, "5511999999999", true}},
		{"close bracket space", owner, "[ +5511999999999", HandoffDecision{HandoffClose, "5511999999999", true}},
		{"activate", owner, "  Ligar ", HandoffDecision{HandoffActivate, "", true}},
		{"deactivate", owner, "desativar instancia", HandoffDecision{HandoffDeactivate, "", true}},
		{"status", owner, "estado", HandoffDecision{HandoffStatus, "", true}},
		{"plain owner text", owner, "bom dia", HandoffDecision{}},
		{"contact cannot command", "5511999999999", "<<< 5511988888888", HandoffDecision{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CommandHandoffPolicy{}.Evaluate(inst, HandoffInput{FromNumber: tt.from, Content: tt.content})
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestKeywordHandoffPolicy(t *testing.T) {
	inst := ownerInstance(t)
	p := NewKeywordHandoffPolicy([]string{" Atendente ", "humano", ""})

	d := p.Evaluate(inst, HandoffInput{FromNumber: "5511999999999", Content: "Quero falar com um ATENDENTE"})
	if d.Action != HandoffToHuman || d.TargetNumber != "5511999999999" || d.Command {
		t.Errorf("unexpected decision %+v", d)
	}
	if !p.Evaluate(inst, HandoffInput{FromNumber: "5511999999999", Content: "qual o preço?"}).IsNone() {
		t.Error("no keyword should yield no action")
	}
	if !p.Evaluate(inst, HandoffInput{FromNumber: "5511999999999", Content: "atendente", FromMe: true}).IsNone() {
		t.Error("own messages never trigger keyword handoff")
	}

	p.SetKeywords([]string{"pessoa"})
	if len(p.Keywords()) != 1 {
		t.Errorf("keywords = %v", p.Keywords())
	}
	if !p.Evaluate(inst, HandoffInput{FromNumber: "5511999999999", Content: "atendente"}).IsNone() {
		t.Error("old keyword should be gone after reload")
	}
}

func TestChainHandoffPolicy_FirstMatchWins(t *testing.T) {
	inst := ownerInstance(t)
	chain := ChainHandoffPolicy{CommandHandoffPolicy{}, NewKeywordHandoffPolicy([]string{"humano"})}

	d := chain.Evaluate(inst, HandoffInput{FromNumber: "5511911111111", Content: "<<< 5511999999999"})
	if !d.Command || d.Action != HandoffToHuman {
		t.Errorf("owner command not recognised: %+v", d)
	}
	d = chain.Evaluate(inst, HandoffInput{FromNumber: "5511999999999", Content: "quero um humano"})
	if d.Command || d.Action != HandoffToHuman {
		t.Errorf("keyword not recognised: %+v", d)
	}
}
