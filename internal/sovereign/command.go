// Package sovereign is the Sovereign Control Plane: an authenticated
// command surface for pilot interventions. Grounded on the teacher's
// ops_api.go for the net/http ServeMux-plus-handler shape of a control
// API, generalized from its mode/paper-config endpoints to the command
// set and critical-command signature requirement. Authentication and the
// append-only audit log are new: the teacher's services trust their NATS
// transport and never authenticate a caller.
package sovereign

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/autovant/reflex/internal/domain"
)

// Kind enumerates the commands the sovereign control plane accepts.
type Kind string

const (
	KindKill                   Kind = "kill"
	KindVeto                   Kind = "veto"
	KindPause                  Kind = "pause"
	KindResume                 Kind = "resume"
	KindCloseAll               Kind = "close_all"
	KindSetSentimentOverride   Kind = "set_sentiment_override"
	KindClearSentimentOverride Kind = "clear_sentiment_override"
	KindSetLegislation         Kind = "update_legislation"
	KindCancelOrder            Kind = "cancel_order"
	KindClosePosition          Kind = "close_position"
	KindUpdateConfig           Kind = "update_config"
	KindVerify                 Kind = "verify"
)

// critical commands require an attested signature in addition to the
// shared pre-shared key.
func (k Kind) critical() bool {
	return k == KindKill || k == KindCloseAll
}

// Command is one sovereign instruction. Signature is only checked for
// critical kinds; the remaining fields are each meaningful only to the
// Kind that consumes them (SentimentOverride to SetSentimentOverride,
// Legislative to update_legislation, Symbol to close_position,
// OrderID to cancel_order, ConfigKey/ConfigValue to update_config).
type Command struct {
	Kind              Kind
	UserID            string
	Reason            string
	SentimentOverride float64
	Legislative       *domain.LegislativeState
	Symbol            string
	OrderID           uint64
	ConfigKey         string
	ConfigValue       string
	Signature         string // hex-encoded HMAC-SHA256 over Kind+UserID+Reason, critical commands only
	Source            string
}

// Result is what applying a Command does to governance state. The caller
// (governor) is responsible for actually installing these into its
// single-writer state; Apply only computes the intended mutation so it
// can be unit-tested without a live Governor.
type Result struct {
	NewRatchet       domain.RatchetLevel
	RatchetChanged   bool
	LegislativeDelta func(domain.LegislativeState) domain.LegislativeState
	Terminate        bool // true only for Kill; no position flatten is performed first

	SentimentOverride *float64 // non-nil: install this value
	ClearSentiment    bool
	FlattenSymbol     string // non-empty: request an immediate flatten
	CancelOrderID     uint64
	CancelRequested   bool
	ConfigKey         string
	ConfigValue       string
	ConfigRequested   bool
}

// Authenticator verifies a command's shared-key and, for critical
// commands, its HMAC signature.
type Authenticator struct {
	psk       []byte
	signKey   []byte
}

func NewAuthenticator(psk string) *Authenticator {
	return &Authenticator{psk: []byte(psk), signKey: []byte(psk)}
}

// Authenticate reports whether presentedKey matches the configured PSK
// and, for critical commands, whether cmd.Signature verifies. Comparison
// is constant-time throughout so a timing side channel cannot be used to
// recover the key byte-by-byte.
func (a *Authenticator) Authenticate(cmd Command, presentedKey string) error {
	if subtle.ConstantTimeCompare(a.psk, []byte(presentedKey)) != 1 {
		return fmt.Errorf("auth failed")
	}
	if cmd.Kind.critical() {
		expected := a.sign(cmd)
		got, err := hex.DecodeString(cmd.Signature)
		if err != nil || subtle.ConstantTimeCompare(expected, got) != 1 {
			return fmt.Errorf("auth failed")
		}
	}
	return nil
}

// CheckKey verifies only the shared pre-shared key, for read-only
// introspection endpoints (health, mode) that carry no command payload
// to sign.
func (a *Authenticator) CheckKey(presentedKey string) bool {
	return subtle.ConstantTimeCompare(a.psk, []byte(presentedKey)) == 1
}

func (a *Authenticator) sign(cmd Command) []byte {
	mac := hmac.New(sha256.New, a.signKey)
	mac.Write([]byte(string(cmd.Kind) + "|" + cmd.UserID + "|" + cmd.Reason))
	return mac.Sum(nil)
}

// Sign computes the hex signature a caller must attach to a critical
// command. Exposed so an operator-side tool can produce valid requests;
// never called from the request-handling path itself.
func (a *Authenticator) Sign(cmd Command) string {
	return hex.EncodeToString(a.sign(cmd))
}

// Apply computes the governance-state mutation a validated Command
// implies. It does not itself check authentication.
func Apply(cmd Command, current domain.RatchetLevel) Result {
	switch cmd.Kind {
	case KindKill:
		return Result{NewRatchet: domain.RatchetKill, RatchetChanged: true, Terminate: true}
	case KindVeto, KindPause:
		return Result{NewRatchet: domain.RatchetFreeze, RatchetChanged: true}
	case KindResume:
		return Result{NewRatchet: domain.RatchetIdle, RatchetChanged: true}
	case KindCloseAll:
		return Result{
			LegislativeDelta: func(l domain.LegislativeState) domain.LegislativeState {
				l.Hibernation = true
				return l
			},
		}
	case KindSetLegislation:
		legislative := cmd.Legislative
		return Result{
			LegislativeDelta: func(l domain.LegislativeState) domain.LegislativeState {
				if legislative == nil {
					return l
				}
				l.Bias = legislative.Bias
				l.Aggression = legislative.Aggression
				l.MakerOnly = legislative.MakerOnly
				l.SnapToBreakeven = legislative.SnapToBreakeven
				l.Hibernation = legislative.Hibernation
				return l
			},
		}
	case KindSetSentimentOverride:
		v := cmd.SentimentOverride
		return Result{SentimentOverride: &v}
	case KindClearSentimentOverride:
		return Result{ClearSentiment: true}
	case KindClosePosition:
		return Result{FlattenSymbol: cmd.Symbol}
	case KindCancelOrder:
		return Result{CancelOrderID: cmd.OrderID, CancelRequested: true}
	case KindUpdateConfig:
		return Result{ConfigKey: cmd.ConfigKey, ConfigValue: cmd.ConfigValue, ConfigRequested: true}
	case KindVerify:
		return Result{}
	default:
		return Result{}
	}
}
