// Package cli provides output and API client helpers for the ingestd CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAccepted writes the response to a job submission.
func WriteAccepted(w io.Writer, resp *models.IngestResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintf(w, "job_id:   %s\n", resp.JobID)
	fmt.Fprintf(w, "status:   %s\n", resp.Status)
	fmt.Fprintf(w, "message:  %s\n", resp.Message)
	return nil
}

// WriteJob writes a job record.
func WriteJob(w io.Writer, job *models.Job, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, job)
	}
	fmt.Fprintf(w, "job_id:      %s\n", job.JobID)
	fmt.Fprintf(w, "status:      %s\n", job.Status)
	if job.DocID != nil {
		fmt.Fprintf(w, "doc_id:      %s\n", *job.DocID)
	}
	if job.Error != nil {
		fmt.Fprintf(w, "error:       %s\n", utils.Truncate(*job.Error, 500))
	}
	if len(job.Counts) > 0 {
		keys := make([]string, 0, len(job.Counts))
		for k := range job.Counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%d", k, job.Counts[k])
		}
		fmt.Fprintf(w, "counts:      %s\n", strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "created_at:  %s\n", job.CreatedAt)
	fmt.Fprintf(w, "updated_at:  %s\n", job.UpdatedAt)
	return nil
}

// WriteParity writes a parity report.
func WriteParity(w io.Writer, r *models.ParityReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, r)
	}
	fmt.Fprintf(w, "doc_id:   %s\n", r.DocID)
	fmt.Fprintf(w, "lexical:  %d\n", r.Lexical)
	fmt.Fprintf(w, "vector:   %d\n", r.Vector)
	fmt.Fprintf(w, "match:    %t\n", r.Match)
	if r.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", r.Error)
	}
	return nil
}

// WriteStats writes the /api/stats payload; keys print in sorted order.
func WriteStats(w io.Writer, stats map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, stats)
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-18s %v\n", k+":", stats[k])
	}
	return nil
}

// ParseTags turns repeated key=value flag values into tags.
func ParseTags(pairs []string) (models.Tags, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(models.Tags, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q; want key=value", p)
		}
		tags[k] = strings.TrimSpace(v)
	}
	return tags, nil
}

// TagFlag collects repeated --tag flags.
type TagFlag []string

func (t *TagFlag) String() string { return strings.Join(*t, ",") }

func (t *TagFlag) Set(v string) error {
	*t = append(*t, v)
	return nil
}
