// Package model defines the data structures served by the advisory index,
// including advisories, shrinkwrap payloads and query findings.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Advisory describes a known vulnerability affecting a range of versions of a module.
type Advisory struct {
	Key                string    `json:"_key,omitempty"`             // Document key when loaded from a document store.
	ObjType            string    `json:"objtype,omitempty"`          // The object type for database indexing (should be "Advisory").
	ID                 string    `json:"id"`                         // Slug derived from the source file name, unique across the collection.
	Title              string    `json:"title"`                      // Human-readable headline.
	Author             string    `json:"author,omitempty"`           // Who reported or wrote up the issue.
	ModuleName         string    `json:"module_name"`                // Package the advisory concerns.
	VulnerableVersions string    `json:"vulnerable_versions"`        // Range expression for the affected versions.
	PatchedVersions    string    `json:"patched_versions,omitempty"` // Range expression for fixed versions, passed through.
	Severity           string    `json:"severity,omitempty"`         // critical, high, medium, low or empty.
	CVSSScore          float64   `json:"cvss_score,omitempty"`       // CVSS base score when known.
	CVSSVector         string    `json:"cvss_vector,omitempty"`      // CVSS vector string when known.
	Overview           string    `json:"overview,omitempty"`         // Short description from the front matter.
	Recommendation     string    `json:"recommendation,omitempty"`   // Remediation advice from the front matter.
	Body               string    `json:"body,omitempty"`             // Raw document body, never interpreted.
	CrossReferences    []string  `json:"cves"`                       // External identifiers such as CVE ids, in source order.
	PublishDate        time.Time `json:"publish_date,omitzero"`      // Zero when the source carried no publish date.
	IngestedAt         time.Time `json:"ingested_at"`                // When the loader produced the record.
	Defects            []string  `json:"defects,omitempty"`          // Ingestion problems that make the record unusable for matching.
}

// NewAdvisory creates a new Advisory instance with default values
func NewAdvisory() *Advisory {
	return &Advisory{
		ObjType:         "Advisory",
		CrossReferences: []string{},
	}
}

// EffectiveDate is the publish date, or the ingestion time when none was given.
func (a *Advisory) EffectiveDate() time.Time {
	if a.PublishDate.IsZero() {
		return a.IngestedAt
	}
	return a.PublishDate
}

// HasPublishDate reports whether the source supplied a publish date.
func (a *Advisory) HasPublishDate() bool {
	return !a.PublishDate.IsZero()
}

// AddDefect records an ingestion problem on the advisory.
func (a *Advisory) AddDefect(format string, args ...interface{}) {
	a.Defects = append(a.Defects, fmt.Sprintf(format, args...))
}

// Usable reports whether the advisory carried no ingestion defects.
func (a *Advisory) Usable() bool {
	return len(a.Defects) == 0
}

// ErrMalformedCrossReferences is returned when a serialized cross-reference list cannot be parsed.
var ErrMalformedCrossReferences = errors.New("malformed cross-reference list")

// ParseCrossReferences decodes the serialized form used in advisory front
// matter: a JSON array of strings such as ["CVE-2016-1000","CVE-2016-1001"].
// An empty input yields an empty list.
func ParseCrossReferences(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}

	var refs []string
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCrossReferences, err)
	}
	return normalizeReferences(refs)
}

// CrossReferencesFromList converts an already decoded list, as produced by a
// native YAML sequence, into identifiers. Every element must be a non-empty string.
func CrossReferencesFromList(items []interface{}) ([]string, error) {
	refs := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T, not a string", ErrMalformedCrossReferences, i, item)
		}
		refs = append(refs, s)
	}
	return normalizeReferences(refs)
}

func normalizeReferences(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for i, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, fmt.Errorf("%w: element %d is empty", ErrMalformedCrossReferences, i)
		}
		out = append(out, ref)
	}
	return out, nil
}

// SeverityFromCVSS maps a CVSS base score onto a severity rating.
// CRITICAL >= 9.0, HIGH >= 7.0, MEDIUM >= 4.0, LOW >= 0.1.
func SeverityFromCVSS(score float64) string {
	switch {
	case score >= 9.0:
		return "critical"
	case score >= 7.0:
		return "high"
	case score >= 4.0:
		return "medium"
	case score >= 0.1:
		return "low"
	default:
		return ""
	}
}
