package syncpub_test

import (
	"testing"

	"postalgic/syncpub"
)

// TestDigestGoldenVectors pins the digest to published SHA-256 vectors so
// every client implementation can check itself against the same values.
func TestDigestGoldenVectors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", []byte{}, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"hello world", []byte("hello world"), "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		{"abc", []byte("abc"), "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := syncpub.Digest(tt.input); got != tt.want {
				t.Errorf("Digest(%q) = %s, want %s", tt.input, got, tt.want)
			}
			if again := syncpub.Digest(tt.input); again != tt.want {
				t.Error("digest is not stable across calls")
			}
		})
	}
}

// TestDigestNoNormalization verifies line endings are hashed as given.
func TestDigestNoNormalization(t *testing.T) {
	if syncpub.Digest([]byte("a\nb")) == syncpub.Digest([]byte("a\r\nb")) {
		t.Error("expected different digests for different line endings")
	}
}
