package delivery

import (
	"strings"
	"testing"
)

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event_id":"ev-1","kind":"skill.published"}`)
	sig := Sign("secret", body)

	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("signature %q missing scheme prefix", sig)
	}
	if !Verify("secret", body, sig) {
		t.Error("signature does not verify with the signing secret")
	}
	if Verify("other", body, sig) {
		t.Error("signature verified with the wrong secret")
	}
	if Verify("secret", append(body, ' '), sig) {
		t.Error("signature verified over mutated body")
	}
}

func TestSignDeterministic(t *testing.T) {
	body := []byte("payload")
	if Sign("k", body) != Sign("k", body) {
		t.Error("signature not deterministic for identical input")
	}
}
