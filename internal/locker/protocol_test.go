package locker

import "testing"

func TestParseStatus_BareLiteral(t *testing.T) {
	if got := ParseStatus("locked\n", true); got != StatusLocked {
		t.Fatalf("ParseStatus=%q, want %q", got, StatusLocked)
	}
}

func TestParseStatus_ObjectForm(t *testing.T) {
	if got := ParseStatus(`{"status":"Locked"}`, true); got != StatusLocked {
		t.Fatalf("ParseStatus=%q, want %q", got, StatusLocked)
	}
}

func TestParseStatus_CasefoldOnlyWhenAsked(t *testing.T) {
	// Lock/Unlock replies are folded; data replies must come back
	// verbatim or stored payloads would be corrupted.
	if got := ParseStatus("UnLocked\n", true); got != StatusUnlocked {
		t.Fatalf("folded ParseStatus=%q, want %q", got, StatusUnlocked)
	}
	if got := ParseStatus("MyPayload\n", false); got != "MyPayload" {
		t.Fatalf("unfolded ParseStatus=%q, want %q", got, "MyPayload")
	}
}

func TestIsStatus(t *testing.T) {
	for _, s := range []string{"locked", "unlocked", "failure", "badpayload", "LOCKED"} {
		if !IsStatus(s) {
			t.Fatalf("IsStatus(%q)=false, want true", s)
		}
	}
	for _, s := range []string{"", "pending", "MyPayload"} {
		if IsStatus(s) {
			t.Fatalf("IsStatus(%q)=true, want false", s)
		}
	}
}
