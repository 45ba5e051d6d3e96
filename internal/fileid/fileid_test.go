package fileid

import (
	"strings"
	"testing"
)

func TestDocID_derivedFromStemAndHash(t *testing.T) {
	content := []byte("hello world")
	id, sum := DocID("/acme/contracts/msa-2024.pdf", content, "")
	if len(sum) != 64 {
		t.Fatalf("sha256 should be 64 hex chars, got %d", len(sum))
	}
	want := "msa-2024-" + sum[:8]
	if id != want {
		t.Errorf("DocID = %q, want %q", id, want)
	}
}

func TestDocID_explicitWins(t *testing.T) {
	id, sum := DocID("/acme/contracts/msa.pdf", []byte("x"), "contract-42")
	if id != "contract-42" {
		t.Errorf("explicit doc id should be kept, got %q", id)
	}
	if sum != ContentSHA256([]byte("x")) {
		t.Errorf("sha256 must always be the full content hash, got %q", sum)
	}
}

func TestDocID_deterministic(t *testing.T) {
	content := []byte("same bytes")
	id1, sum1 := DocID("a/b/report.txt", content, "")
	id2, sum2 := DocID("a/b/report.txt", content, "")
	if id1 != id2 || sum1 != sum2 {
		t.Errorf("same input should give same identity: %q/%q vs %q/%q", id1, sum1, id2, sum2)
	}
	id3, _ := DocID("a/b/report.txt", []byte("other bytes"), "")
	if id1 == id3 {
		t.Errorf("different content should give different doc ids: %q", id1)
	}
}

func TestPathHelpers(t *testing.T) {
	tests := []struct {
		path     string
		name     string
		stem     string
		fileType string
	}{
		{"/acme/contracts/MSA.PDF", "MSA.PDF", "MSA", "pdf"},
		{"acme/data/archive.tar.gz", "archive.tar.gz", "archive.tar", "gz"},
		{"acme/data/README", "README", "README", ""},
		{"acme/data/.env", ".env", ".env", ""},
		{"acme/data/dir/", "dir", "dir", ""},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		if got := Name(tt.path); got != tt.name {
			t.Errorf("Name(%q) = %q, want %q", tt.path, got, tt.name)
		}
		if got := Stem(tt.path); got != tt.stem {
			t.Errorf("Stem(%q) = %q, want %q", tt.path, got, tt.stem)
		}
		if got := FileType(tt.path); got != tt.fileType {
			t.Errorf("FileType(%q) = %q, want %q", tt.path, got, tt.fileType)
		}
	}
}

func TestContentSHA256_knownValue(t *testing.T) {
	got := ContentSHA256([]byte(""))
	if !strings.HasPrefix(got, "e3b0c442") {
		t.Errorf("sha256 of empty input = %q", got)
	}
}
