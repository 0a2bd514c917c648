// Package loader turns advisory documents into records and publishes new
// index generations built from them.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ortelius/advisory-index/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// TemplateFile is the authoring template kept alongside the advisories. It is never loaded.
const TemplateFile = "template.md"

// ErrNoFrontMatter is returned for a document that does not open with a --- delimited YAML block.
var ErrNoFrontMatter = errors.New("document has no front matter")

// Source produces the complete record set for one index generation.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]*model.Advisory, error)
}

// frontMatter is the YAML header of an advisory document. Dates and scores
// are decoded as strings and converted by hand so one bad value does not
// lose the whole document.
type frontMatter struct {
	Title              string      `yaml:"title"`
	Author             string      `yaml:"author"`
	ModuleName         string      `yaml:"module_name"`
	PublishDate        string      `yaml:"publish_date"`
	CVEs               interface{} `yaml:"cves"`
	VulnerableVersions string      `yaml:"vulnerable_versions"`
	PatchedVersions    string      `yaml:"patched_versions"`
	Severity           string      `yaml:"severity"`
	CVSSScore          string      `yaml:"cvss_score"`
	CVSSVector         string      `yaml:"cvss_vector"`
	Overview           string      `yaml:"overview"`
	Recommendation     string      `yaml:"recommendation"`
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
}

// ParsePublishDate accepts the date spellings found in advisory front matter.
// Values without a zone are taken as UTC. A trailing zone name in parentheses,
// as in "GMT-0800 (PST)", is ignored.
func ParsePublishDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, " ("); i > 0 && strings.HasSuffix(raw, ")") {
		raw = strings.TrimSpace(raw[:i])
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised publish_date %q", raw)
}

// splitFrontMatter separates the YAML header from the body. The header opens
// with a --- line and closes with a --- or ... line.
func splitFrontMatter(data []byte) (header, body []byte, err error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))

	if !bytes.HasPrefix(data, []byte("---\n")) {
		return nil, nil, ErrNoFrontMatter
	}
	rest := data[len("---\n"):]

	offset := 0
	for offset <= len(rest) {
		end := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		if end < 0 {
			line = rest[offset:]
		} else {
			line = rest[offset : offset+end]
		}
		trimmed := strings.TrimRight(string(line), " \t")
		if trimmed == "---" || trimmed == "..." {
			header = rest[:offset]
			if end < 0 {
				return header, nil, nil
			}
			return header, rest[offset+end+1:], nil
		}
		if end < 0 {
			break
		}
		offset += end + 1
	}
	return nil, nil, fmt.Errorf("%w: closing delimiter not found", ErrNoFrontMatter)
}

// ParseDocument converts one advisory document into a record. Structural
// problems (no front matter, invalid YAML) are errors. Problems confined to
// one field leave a usable record or are recorded as defects on it.
func ParseDocument(id string, data []byte, ingestedAt time.Time, logger *zap.Logger) (*model.Advisory, error) {
	header, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return nil, fmt.Errorf("front matter: %w", err)
	}

	adv := model.NewAdvisory()
	adv.ID = id
	adv.Title = strings.TrimSpace(fm.Title)
	adv.Author = strings.TrimSpace(fm.Author)
	adv.ModuleName = strings.TrimSpace(fm.ModuleName)
	adv.VulnerableVersions = strings.TrimSpace(fm.VulnerableVersions)
	adv.PatchedVersions = strings.TrimSpace(fm.PatchedVersions)
	adv.CVSSVector = strings.TrimSpace(fm.CVSSVector)
	adv.Overview = fm.Overview
	adv.Recommendation = fm.Recommendation
	adv.Body = string(body)
	adv.IngestedAt = ingestedAt

	if strings.TrimSpace(fm.PublishDate) != "" {
		if published, err := ParsePublishDate(fm.PublishDate); err == nil {
			adv.PublishDate = published
		} else {
			logger.Warn("Ignoring publish_date, ingestion time used instead", zap.String("id", id), zap.Error(err))
		}
	}

	if s := strings.TrimSpace(fm.CVSSScore); s != "" {
		if score, err := strconv.ParseFloat(s, 64); err == nil && score >= 0 && score <= 10 {
			adv.CVSSScore = score
		} else {
			logger.Warn("Ignoring cvss_score", zap.String("id", id), zap.String("cvss_score", s))
		}
	}

	adv.Severity = strings.ToLower(strings.TrimSpace(fm.Severity))
	if adv.Severity == "" {
		adv.Severity = model.SeverityFromCVSS(adv.CVSSScore)
	}

	switch refs := fm.CVEs.(type) {
	case nil:
	case string:
		if parsed, err := model.ParseCrossReferences(refs); err == nil {
			adv.CrossReferences = parsed
		} else {
			adv.AddDefect("cves: %v", err)
		}
	case []interface{}:
		if parsed, err := model.CrossReferencesFromList(refs); err == nil {
			adv.CrossReferences = parsed
		} else {
			adv.AddDefect("cves: %v", err)
		}
	default:
		adv.AddDefect("cves: %v: unsupported type %T", model.ErrMalformedCrossReferences, refs)
	}

	return adv, nil
}

// Dir loads advisories from the markdown files directly inside a directory.
// Subdirectories are not descended into.
type Dir struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// NewDir creates a loader for the advisories under root.
func NewDir(root string, logger *zap.Logger) *Dir {
	return &Dir{root: root, logger: logger, now: time.Now}
}

// Name identifies the source in logs and metrics.
func (d *Dir) Name() string {
	return "dir"
}

// Load reads every advisory document. A document that cannot be parsed is
// logged and skipped; only failing to read the directory itself is an error.
func (d *Dir) Load(ctx context.Context) ([]*model.Advisory, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("reading advisories directory: %w", err)
	}

	ingestedAt := d.now().UTC()
	records := make([]*model.Advisory, 0, len(entries))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		if name == TemplateFile {
			d.logger.Debug("Skipping template", zap.String("file", name))
			continue
		}

		path := filepath.Join(d.root, name)
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			d.logger.Warn("Failed to read advisory", zap.String("file", path), zap.Error(err))
			continue
		}

		adv, err := ParseDocument(strings.TrimSuffix(name, ".md"), data, ingestedAt, d.logger)
		if err != nil {
			d.logger.Warn("Skipping advisory", zap.String("file", path), zap.Error(err))
			continue
		}
		records = append(records, adv)
	}

	d.logger.Debug("Loaded advisories", zap.String("dir", d.root), zap.Int("count", len(records)))
	return records, nil
}
