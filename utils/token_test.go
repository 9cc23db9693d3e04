package utils

import (
	"testing"
	"time"
)

func TestOAuthStateRoundTrip(t *testing.T) {
	state, err := SignOAuthState("biz-1", "revuly", "nonce-abc", 5*time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	claim, err := ParseOAuthState(state)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claim.BusinessId != "biz-1" || claim.Provider != "revuly" || claim.Nonce != "nonce-abc" {
		t.Fatalf("claim fields lost in round trip: %+v", claim)
	}
}

func TestParseOAuthState_RejectsTampering(t *testing.T) {
	state, err := SignOAuthState("biz-1", "ledgerly", "nonce-xyz", 5*time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := ParseOAuthState(state + "x"); err == nil {
		t.Fatalf("tampered state must not parse")
	}
	if _, err := ParseOAuthState("not-a-jwt"); err == nil {
		t.Fatalf("malformed state must not parse")
	}
}

func TestParseOAuthState_Expired(t *testing.T) {
	state, err := SignOAuthState("biz-1", "revuly", "nonce-old", -1*time.Minute)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := ParseOAuthState(state); err == nil {
		t.Fatalf("expired state must not parse")
	}
}
