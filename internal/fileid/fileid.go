// Package fileid derives content-addressed document identity for blobs.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// shortHashLen is the number of hex characters of the content hash used in derived doc IDs.
const shortHashLen = 8

// ContentSHA256 returns the full hex SHA-256 of content.
func ContentSHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DocID returns explicit when non-empty; otherwise "{stem}-{sha256[:8]}" where stem is
// the blob's filename without its final extension. The second return value is always the
// full content hash. Same path and bytes always yield the same pair.
func DocID(blobPath string, content []byte, explicit string) (docID, sum string) {
	sum = ContentSHA256(content)
	if explicit != "" {
		return explicit, sum
	}
	return Stem(blobPath) + "-" + sum[:shortHashLen], sum
}

// Name returns the last element of a slash-separated blob path.
func Name(blobPath string) string {
	trimmed := strings.TrimRight(blobPath, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}

// Ext returns the final extension of the blob's filename including the leading dot.
// Dotfiles without a further dot (".env") have no extension.
func Ext(blobPath string) string {
	name := Name(blobPath)
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return ""
	}
	return name[i:]
}

// Stem returns the blob's filename without its final extension.
func Stem(blobPath string) string {
	name := Name(blobPath)
	return strings.TrimSuffix(name, Ext(blobPath))
}

// FileType returns the lower-cased extension without the leading dot ("pdf", "docx").
func FileType(blobPath string) string {
	return strings.ToLower(strings.TrimPrefix(Ext(blobPath), "."))
}
