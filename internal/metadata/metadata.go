// Package metadata resolves a document's tag set from caller tags, sidecar files,
// the blob path, and system defaults, then validates and enriches it.
//
// InferFromPath, Merge, Validate and Enrich are pure: given the same inputs they
// return the same tags, which is what makes re-ingestion idempotent.
package metadata

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/ingestd/internal/fileid"
	"github.com/hyperjump/ingestd/internal/models"
)

// Tag names.
const (
	TagTenant          = "tenant"
	TagDataset         = "dataset"
	TagDepartment      = "department"
	TagConfidentiality = "confidentiality"
	TagDocType         = "doc_type"
	TagLanguage        = "language"
	TagSourceSystem    = "source_system"

	TagDocID      = "doc_id"
	TagSHA256     = "sha256"
	TagBlobPath   = "blob_path"
	TagFilename   = "filename"
	TagFileType   = "file_type"
	TagFileSize   = "file_size"
	TagIngestedAt = "ingested_at"
)

// RequiredTags must be present on every valid tag set.
var RequiredTags = []string{TagDataset, TagTenant}

// OptionalTags is the recognized set of caller-facing optional tags. Unknown tags are kept.
var OptionalTags = []string{TagConfidentiality, TagDepartment, TagDocType, TagLanguage, TagSourceSystem}

// ConfidentialityLevels are the accepted values for the confidentiality tag.
var ConfidentialityLevels = []string{"public", "internal", "confidential"}

var pathPattern = regexp.MustCompile(`^/?([^/]+)/([^/]+)/`)

// InferFromPath extracts tenant and dataset from a "/{tenant}/{dataset}/..." blob path.
// It returns empty tags when the path does not match.
func InferFromPath(blobPath string) models.Tags {
	m := pathPattern.FindStringSubmatch(blobPath)
	if m == nil {
		return models.Tags{}
	}
	tags := models.Tags{}
	if tenant := normalizeKeyValue(m[1]); tenant != "" {
		tags[TagTenant] = tenant
	}
	if dataset := normalizeKeyValue(m[2]); dataset != "" {
		tags[TagDataset] = dataset
	}
	return tags
}

// Merge combines tag sources; on key collision http beats sidecar beats path beats defaults.
// Nil sources contribute nothing. The result is always a new map.
func Merge(http, sidecar, path, defaults models.Tags) models.Tags {
	merged := models.Tags{}
	for _, src := range []models.Tags{defaults, path, sidecar, http} {
		for k, v := range src {
			merged[k] = v
		}
	}
	return merged
}

// Validate checks required and enumerated tags. Missing tenant/dataset are backfilled
// from blobPath first. Tenant and dataset are lower-cased and trimmed last, regardless of
// where they came from. The input map is not modified.
func Validate(tags models.Tags, blobPath string) (models.Tags, error) {
	out := tags.Clone()

	missing := missingRequired(out)
	if len(missing) > 0 {
		inferred := InferFromPath(blobPath)
		for _, k := range missing {
			if v, ok := inferred[k]; ok {
				out[k] = v
			}
		}
		if missing = missingRequired(out); len(missing) > 0 {
			return nil, &MissingTagError{Keys: missing}
		}
	}

	if v, ok := out[TagConfidentiality]; ok && !contains(ConfidentialityLevels, v) {
		return nil, &InvalidTagError{Key: TagConfidentiality, Value: v, Allowed: ConfidentialityLevels}
	}

	out[TagTenant] = normalizeKeyValue(out[TagTenant])
	out[TagDataset] = normalizeKeyValue(out[TagDataset])
	return out, nil
}

// Enrich returns a copy of tags with derived keys: doc_id, sha256, blob_path, filename,
// file_type, file_size and ingested_at. docID, when non-empty, is kept as the doc_id.
func Enrich(tags models.Tags, blobPath string, content []byte, docID string, now time.Time) models.Tags {
	out := tags.Clone()
	id, sum := fileid.DocID(blobPath, content, docID)
	out[TagDocID] = id
	out[TagSHA256] = sum
	out[TagBlobPath] = blobPath
	out[TagFilename] = fileid.Name(blobPath)
	out[TagFileType] = fileid.FileType(blobPath)
	out[TagFileSize] = strconv.Itoa(len(content))
	out[TagIngestedAt] = now.UTC().Format(time.RFC3339)
	return out
}

func missingRequired(tags models.Tags) []string {
	var missing []string
	for _, k := range RequiredTags {
		if strings.TrimSpace(tags[k]) == "" {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

func normalizeKeyValue(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
