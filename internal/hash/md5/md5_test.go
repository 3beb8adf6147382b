package md5

import "testing"

func TestHasherHash(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("https://example.com/"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if len(got) != 32 {
		t.Fatalf("expected 32 hex chars, got %d (%s)", len(got), got)
	}
	again, _ := New().Hash([]byte("https://example.com/"))
	if again != got {
		t.Fatalf("expected stable digest, got %s vs %s", got, again)
	}
}
