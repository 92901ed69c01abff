package security

import "testing"

func TestHasher_LabelerTokenRoundTrip(t *testing.T) {
	h := NewHasher(4)
	token := []byte("labeler-shared-secret")
	hash, err := h.Hash(token)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" || hash == string(token) {
		t.Fatalf("Hash = %q, want a bcrypt digest", hash)
	}
	if err := h.Compare(hash, token); err != nil {
		t.Errorf("Compare(matching): %v", err)
	}
	if err := h.Compare(hash, []byte("labeler-shared-secreT")); err == nil {
		t.Error("Compare(mismatch) should fail")
	}
}

func TestNewHasher_CostClamp(t *testing.T) {
	testCases := []struct {
		in, want int
	}{
		{0, 10},
		{-3, 10},
		{2, 4},
		{12, 12},
		{40, 31},
	}
	for _, tc := range testCases {
		if got := NewHasher(tc.in).Cost; got != tc.want {
			t.Errorf("NewHasher(%d).Cost = %d, want %d", tc.in, got, tc.want)
		}
	}
}
