package sovereign

import (
	"testing"

	"github.com/autovant/reflex/internal/domain"
)

func TestAuthenticator_RejectsWrongKey(t *testing.T) {
	a := NewAuthenticator("secret")
	cmd := Command{Kind: KindPause, UserID: "op1"}
	if err := a.Authenticate(cmd, "wrong"); err == nil {
		t.Fatal("expected authentication failure for wrong key")
	}
}

func TestAuthenticator_AcceptsNonCriticalWithCorrectKey(t *testing.T) {
	a := NewAuthenticator("secret")
	cmd := Command{Kind: KindPause, UserID: "op1"}
	if err := a.Authenticate(cmd, "secret"); err != nil {
		t.Fatalf("expected auth to succeed, got %v", err)
	}
}

func TestAuthenticator_CriticalRequiresValidSignature(t *testing.T) {
	a := NewAuthenticator("secret")
	cmd := Command{Kind: KindKill, UserID: "op1", Reason: "manual stop"}

	if err := a.Authenticate(cmd, "secret"); err == nil {
		t.Fatal("expected kill without a signature to fail")
	}

	cmd.Signature = a.Sign(cmd)
	if err := a.Authenticate(cmd, "secret"); err != nil {
		t.Fatalf("expected a correctly signed kill to authenticate, got %v", err)
	}
}

func TestAuthenticator_TamperedSignatureRejected(t *testing.T) {
	a := NewAuthenticator("secret")
	cmd := Command{Kind: KindCloseAll, UserID: "op1", Reason: "flatten"}
	cmd.Signature = a.Sign(cmd)

	cmd.Reason = "flatten now" // payload changed after signing
	if err := a.Authenticate(cmd, "secret"); err == nil {
		t.Fatal("expected signature to no longer verify after payload tamper")
	}
}

func TestApply_KillRaisesRatchetAndTerminates(t *testing.T) {
	res := Apply(Command{Kind: KindKill}, domain.RatchetIdle)
	if res.NewRatchet != domain.RatchetKill || !res.Terminate {
		t.Fatalf("expected kill to raise to RatchetKill and terminate, got %+v", res)
	}
}

func TestApply_CloseAllSetsHibernation(t *testing.T) {
	res := Apply(Command{Kind: KindCloseAll}, domain.RatchetIdle)
	if res.LegislativeDelta == nil {
		t.Fatal("expected close_all to carry a legislative delta")
	}
	out := res.LegislativeDelta(domain.LegislativeState{})
	if !out.Hibernation {
		t.Fatal("expected close_all to set Hibernation")
	}
}

func TestApply_SetLegislationCarriesFullPayload(t *testing.T) {
	res := Apply(Command{
		Kind: KindSetLegislation,
		Legislative: &domain.LegislativeState{
			Bias: domain.BiasShortOnly, Aggression: 0.5, MakerOnly: true, SnapToBreakeven: true,
		},
	}, domain.RatchetIdle)
	if res.LegislativeDelta == nil {
		t.Fatal("expected update_legislation to carry a legislative delta")
	}
	out := res.LegislativeDelta(domain.DefaultLegislativeState())
	if out.Bias != domain.BiasShortOnly || out.Aggression != 0.5 || !out.MakerOnly || !out.SnapToBreakeven {
		t.Fatalf("expected full legislative payload to apply, got %+v", out)
	}
}

func TestApply_SentimentOverrideSetAndClear(t *testing.T) {
	set := Apply(Command{Kind: KindSetSentimentOverride, SentimentOverride: -0.6}, domain.RatchetIdle)
	if set.SentimentOverride == nil || *set.SentimentOverride != -0.6 {
		t.Fatalf("expected sentiment override -0.6, got %+v", set)
	}
	clear := Apply(Command{Kind: KindClearSentimentOverride}, domain.RatchetIdle)
	if !clear.ClearSentiment {
		t.Fatal("expected clear_sentiment_override to request a clear")
	}
}

func TestApply_ClosePositionAndCancelOrderCarryTargets(t *testing.T) {
	closeRes := Apply(Command{Kind: KindClosePosition, Symbol: "BTCUSDT"}, domain.RatchetIdle)
	if closeRes.FlattenSymbol != "BTCUSDT" {
		t.Fatalf("expected flatten symbol BTCUSDT, got %q", closeRes.FlattenSymbol)
	}
	cancel := Apply(Command{Kind: KindCancelOrder, OrderID: 42}, domain.RatchetIdle)
	if !cancel.CancelRequested || cancel.CancelOrderID != 42 {
		t.Fatalf("expected cancel request for order 42, got %+v", cancel)
	}
}

func TestApply_UpdateConfigCarriesKeyValue(t *testing.T) {
	res := Apply(Command{Kind: KindUpdateConfig, ConfigKey: "max_leverage", ConfigValue: "2.0"}, domain.RatchetIdle)
	if !res.ConfigRequested || res.ConfigKey != "max_leverage" || res.ConfigValue != "2.0" {
		t.Fatalf("expected update_config to carry key/value, got %+v", res)
	}
}
