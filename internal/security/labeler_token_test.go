package security

import "testing"

func TestLabelerAuthenticator(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash([]byte("labeler-secret"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	a := NewLabelerAuthenticator(h, hash)

	if a.Verify("wrong") {
		t.Error("wrong token accepted before first match")
	}
	if !a.Verify("labeler-secret") {
		t.Fatal("correct token rejected")
	}
	// Memoized path.
	if !a.Verify("labeler-secret") {
		t.Error("correct token rejected on memoized path")
	}
	if a.Verify("wrong") {
		t.Error("wrong token accepted on memoized path")
	}
	if a.Verify("") {
		t.Error("empty token accepted")
	}
}

func TestLabelerAuthenticator_NoHashRejects(t *testing.T) {
	a := NewLabelerAuthenticator(nil, "")
	if a.Verify("anything") {
		t.Error("authenticator without hash must reject")
	}
	var nilAuth *LabelerAuthenticator
	if nilAuth.Verify("anything") {
		t.Error("nil authenticator must reject")
	}
}
