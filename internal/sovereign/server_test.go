package sovereign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autovant/reflex/internal/domain"
	"github.com/autovant/reflex/internal/logging"
)

type fakeGovernor struct {
	ratchet           domain.RatchetLevel
	legislative       domain.LegislativeState
	terminated        bool
	sentimentOverride *float64
	flattenRequests   []string
	configUpdates     map[string]string
}

func (f *fakeGovernor) ForceRatchet(level domain.RatchetLevel)   { f.ratchet = f.ratchet.Raise(level) }
func (f *fakeGovernor) ClearRatchet(level domain.RatchetLevel)   { f.ratchet = level }
func (f *fakeGovernor) SetLegislative(l domain.LegislativeState) { f.legislative = l }
func (f *fakeGovernor) Legislative() domain.LegislativeState     { return f.legislative }
func (f *fakeGovernor) Ratchet() domain.RatchetLevel             { return f.ratchet }
func (f *fakeGovernor) SetSentimentOverride(v float64)           { f.sentimentOverride = &v }
func (f *fakeGovernor) ClearSentimentOverride()                  { f.sentimentOverride = nil }
func (f *fakeGovernor) RequestFlatten(symbol string)             { f.flattenRequests = append(f.flattenRequests, symbol) }
func (f *fakeGovernor) UpdateConfigKey(key, value string) error {
	if key == "unknown_key" {
		return fmt.Errorf("config key %q is not runtime-mutable", key)
	}
	if f.configUpdates == nil {
		f.configUpdates = make(map[string]string)
	}
	f.configUpdates[key] = value
	return nil
}

type fakeExecution struct {
	resting map[uint64]bool
}

func (f *fakeExecution) CancelOrder(orderID uint64) bool {
	if !f.resting[orderID] {
		return false
	}
	delete(f.resting, orderID)
	return true
}

func TestServer_CommandRequiresValidKey(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "pause", Key: "wrong"})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestServer_PauseForcesFreeze(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "pause", Key: "secret", UserID: "op1"})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if gov.ratchet != domain.RatchetFreeze {
		t.Fatalf("expected ratchet Freeze, got %v", gov.ratchet)
	}
}

func TestServer_KillRequiresSignature(t *testing.T) {
	gov := &fakeGovernor{}
	auth := NewAuthenticator("secret")
	srv := NewServer(logging.New("test"), auth, gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "kill", Key: "secret", UserID: "op1", Reason: "manual"})
	resp, _ := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unsigned kill to be rejected, got %d", resp.StatusCode)
	}

	sig := auth.Sign(Command{Kind: KindKill, UserID: "op1", Reason: "manual"})
	body, _ = json.Marshal(commandRequest{Kind: "kill", Key: "secret", UserID: "op1", Reason: "manual", Signature: sig})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected signed kill to succeed, got %d", resp.StatusCode)
	}
	if gov.ratchet != domain.RatchetKill {
		t.Fatalf("expected ratchet Kill, got %v", gov.ratchet)
	}
}

func TestServer_HealthRequiresKey(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil).WithMode("simulation")
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sovereign/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/sovereign/health?key=secret")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with correct key, got %d", resp.StatusCode)
	}
}

func TestServer_ModeReportsConfiguredMode(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil).WithMode("shadow_execution")
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sovereign/mode?key=secret")
	if err != nil {
		t.Fatal(err)
	}
	var body modeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Mode != "shadow_execution" {
		t.Fatalf("expected mode shadow_execution, got %q", body.Mode)
	}
}

func TestServer_AuditTailReflectsCommands(t *testing.T) {
	gov := &fakeGovernor{}
	audit := NewAuditLog()
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, audit, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "pause", Key: "secret", UserID: "op1"})
	http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))

	unauth, err := http.Get(ts.URL + "/sovereign/audit")
	if err != nil {
		t.Fatal(err)
	}
	if unauth.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", unauth.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/sovereign/audit?key=secret")
	if err != nil {
		t.Fatal(err)
	}
	var entries []AuditEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Command != KindPause {
		t.Fatalf("expected one audit entry for pause, got %+v", entries)
	}
}

func TestServer_UpdateLegislationReachesGovernorAtRuntime(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{
		Kind: "update_legislation", Key: "secret", UserID: "op1",
		Bias: "long_only", Aggression: 1.5, MakerOnly: true, SnapToBreakeven: true,
	})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if gov.legislative.Bias != domain.BiasLongOnly {
		t.Fatalf("expected bias long_only, got %v", gov.legislative.Bias)
	}
	if !gov.legislative.MakerOnly {
		t.Fatalf("expected maker_only true")
	}
	if gov.legislative.Aggression != 1.5 {
		t.Fatalf("expected aggression 1.5, got %v", gov.legislative.Aggression)
	}
}

func TestServer_UpdateLegislationRejectsInvalidBias(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "update_legislation", Key: "secret", UserID: "op1", Bias: "nonsense", Aggression: 1.0})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid bias, got %d", resp.StatusCode)
	}
}

func TestServer_SentimentOverrideRoundTrip(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "set_sentiment_override", Key: "secret", UserID: "op1", SentimentOverride: -0.8})
	http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if gov.sentimentOverride == nil || *gov.sentimentOverride != -0.8 {
		t.Fatalf("expected sentiment override -0.8, got %v", gov.sentimentOverride)
	}

	body, _ = json.Marshal(commandRequest{Kind: "clear_sentiment_override", Key: "secret", UserID: "op1"})
	http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if gov.sentimentOverride != nil {
		t.Fatalf("expected sentiment override cleared, got %v", *gov.sentimentOverride)
	}
}

func TestServer_ClosePositionRequestsFlatten(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "close_position", Key: "secret", UserID: "op1", Symbol: "BTCUSDT"})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(gov.flattenRequests) != 1 || gov.flattenRequests[0] != "BTCUSDT" {
		t.Fatalf("expected a flatten request for BTCUSDT, got %v", gov.flattenRequests)
	}
}

func TestServer_CancelOrderRequiresExecutionAdapter(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "cancel_order", Key: "secret", UserID: "op1", OrderID: 7})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without a wired execution adapter, got %d", resp.StatusCode)
	}
}

func TestServer_CancelOrderCancelsRestingOrder(t *testing.T) {
	gov := &fakeGovernor{}
	exec := &fakeExecution{resting: map[uint64]bool{7: true}}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil).WithExecution(exec)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "cancel_order", Key: "secret", UserID: "op1", OrderID: 7})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if exec.resting[7] {
		t.Fatalf("expected order 7 to be cancelled")
	}
}

func TestServer_UpdateConfigMutatesGovernorConfig(t *testing.T) {
	gov := &fakeGovernor{}
	srv := NewServer(logging.New("test"), NewAuthenticator("secret"), gov, NewAuditLog(), nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body, _ := json.Marshal(commandRequest{Kind: "update_config", Key: "secret", UserID: "op1", ConfigKey: "max_leverage", ConfigValue: "2.0"})
	resp, err := http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if gov.configUpdates["max_leverage"] != "2.0" {
		t.Fatalf("expected max_leverage updated to 2.0, got %v", gov.configUpdates)
	}

	body, _ = json.Marshal(commandRequest{Kind: "update_config", Key: "secret", UserID: "op1", ConfigKey: "unknown_key", ConfigValue: "x"})
	resp, err = http.Post(ts.URL+"/sovereign/command", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a non-mutable config key, got %d", resp.StatusCode)
	}
}
