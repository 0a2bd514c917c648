// Package index groups advisories by module name into an immutable,
// concurrently readable ModuleIndex.
package index

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ortelius/advisory-index/matcher"
	"github.com/ortelius/advisory-index/model"
)

// WarningKind classifies a data-quality problem found while building an index.
type WarningKind string

const (
	// WarnDuplicateID means a later record replaced an earlier one with the same id.
	WarnDuplicateID WarningKind = "duplicate_id"
	// WarnMissingID means a record had no id and was dropped.
	WarnMissingID WarningKind = "missing_id"
	// WarnMissingModule means a record had no module name and is only retrievable by id.
	WarnMissingModule WarningKind = "missing_module"
	// WarnInvalidRange means the vulnerable_versions expression does not parse.
	WarnInvalidRange WarningKind = "invalid_range"
	// WarnDefective means the loader flagged the record, for example a malformed cves list.
	WarnDefective WarningKind = "defective_record"
)

// Warning is a non-fatal problem reported alongside a built index.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	ID      string      `json:"id,omitempty"`
	Module  string      `json:"module,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Kind, w.ID, w.Message)
}

// entry pairs a record with its pre-parsed range. rng is nil when the record
// is not eligible for matching.
type entry struct {
	rec *model.Advisory
	rng *matcher.Range
}

// ModuleIndex is one generation of the advisory collection. It is never
// mutated once Build returns.
type ModuleIndex struct {
	generation uint64
	builtAt    time.Time
	all        []*model.Advisory
	byID       map[string]*entry
	modules    map[string][]*entry
	warnings   []Warning
}

// Empty returns an index with no advisories.
func Empty() *ModuleIndex {
	idx, _ := Build(nil)
	return idx
}

// Build groups records by module name. Records are referenced, not copied.
// Per-module lists are ordered by effective date, newest first, with ties
// kept in input order. A repeated id replaces the earlier record in place.
func Build(records []*model.Advisory) (*ModuleIndex, []Warning) {
	idx := &ModuleIndex{
		builtAt: time.Now(),
		byID:    make(map[string]*entry, len(records)),
		modules: make(map[string][]*entry),
	}

	ordered := make([]*entry, 0, len(records))
	slot := make(map[string]int, len(records))

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.ID == "" {
			idx.warn(WarnMissingID, rec, "record has no id and was skipped (title %q)", rec.Title)
			continue
		}

		e := &entry{rec: rec}
		if i, dup := slot[rec.ID]; dup {
			prev := ordered[i].rec
			if reflect.DeepEqual(prev, rec) {
				idx.warn(WarnDuplicateID, rec, "identical record repeated, later copy kept")
			} else {
				idx.warn(WarnDuplicateID, rec, "conflicting records share this id, later record replaces earlier one")
			}
			ordered[i] = e
			continue
		}
		slot[rec.ID] = len(ordered)
		ordered = append(ordered, e)
	}

	idx.all = make([]*model.Advisory, 0, len(ordered))
	for _, e := range ordered {
		rec := e.rec
		idx.all = append(idx.all, rec)
		idx.byID[rec.ID] = e

		switch {
		case !rec.Usable():
			for _, d := range rec.Defects {
				idx.warn(WarnDefective, rec, "%s", d)
			}
		default:
			rng, err := matcher.ParseRange(rec.VulnerableVersions)
			if err != nil {
				idx.warn(WarnInvalidRange, rec, "%v", err)
			} else {
				e.rng = rng
			}
		}

		if rec.ModuleName == "" {
			idx.warn(WarnMissingModule, rec, "record has no module_name and is only retrievable by id")
			continue
		}
		idx.modules[rec.ModuleName] = append(idx.modules[rec.ModuleName], e)
	}

	for _, list := range idx.modules {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].rec.EffectiveDate().After(list[j].rec.EffectiveDate())
		})
	}

	return idx, idx.warnings
}

func (idx *ModuleIndex) warn(kind WarningKind, rec *model.Advisory, format string, args ...interface{}) {
	idx.warnings = append(idx.warnings, Warning{
		Kind:    kind,
		ID:      rec.ID,
		Module:  rec.ModuleName,
		Message: fmt.Sprintf(format, args...),
	})
}

// RecordsFor returns the advisories for module, newest first. An unknown
// module yields an empty slice.
func (idx *ModuleIndex) RecordsFor(module string) []*model.Advisory {
	list := idx.modules[module]
	out := make([]*model.Advisory, 0, len(list))
	for _, e := range list {
		out = append(out, e.rec)
	}
	return out
}

// Affecting returns the advisories for module whose range contains v, in
// RecordsFor order. Records without a usable range never match.
func (idx *ModuleIndex) Affecting(module string, v *semver.Version) []*model.Advisory {
	out := []*model.Advisory{}
	for _, e := range idx.modules[module] {
		if e.rng != nil && e.rng.Contains(v) {
			out = append(out, e.rec)
		}
	}
	return out
}

// Get looks up an advisory by id, including records excluded from matching.
func (idx *ModuleIndex) Get(id string) (*model.Advisory, bool) {
	e, ok := idx.byID[id]
	if !ok {
		return nil, false
	}
	return e.rec, true
}

// Matchable reports whether the advisory with id takes part in version matching.
func (idx *ModuleIndex) Matchable(id string) bool {
	e, ok := idx.byID[id]
	return ok && e.rng != nil
}

// All returns every advisory in ingestion order.
func (idx *ModuleIndex) All() []*model.Advisory {
	out := make([]*model.Advisory, len(idx.all))
	copy(out, idx.all)
	return out
}

// Modules returns the indexed module names in sorted order.
func (idx *ModuleIndex) Modules() []string {
	names := make([]string, 0, len(idx.modules))
	for name := range idx.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Latest returns the advisory with the newest effective date. Ties go to the
// record ingested first.
func (idx *ModuleIndex) Latest() (*model.Advisory, bool) {
	var latest *model.Advisory
	for _, rec := range idx.all {
		if latest == nil || rec.EffectiveDate().After(latest.EffectiveDate()) {
			latest = rec
		}
	}
	return latest, latest != nil
}

// Len is the number of advisories in the index.
func (idx *ModuleIndex) Len() int {
	return len(idx.all)
}

// Warnings returns the problems reported when the index was built.
func (idx *ModuleIndex) Warnings() []Warning {
	out := make([]Warning, len(idx.warnings))
	copy(out, idx.warnings)
	return out
}

// Generation is the sequence number assigned when the index was published.
// Zero means it was never published through a Holder.
func (idx *ModuleIndex) Generation() uint64 {
	return idx.generation
}

// BuiltAt is when Build produced the index.
func (idx *ModuleIndex) BuiltAt() time.Time {
	return idx.builtAt
}
