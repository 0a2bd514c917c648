// Package query exposes the advisory lookups every transport adapter calls.
// Each operation reads exactly one index generation.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ortelius/advisory-index/index"
	"github.com/ortelius/advisory-index/matcher"
	"github.com/ortelius/advisory-index/model"
	"github.com/ortelius/advisory-index/util"
)

var (
	// ErrMalformedCutoff is returned for a since value that is not an integer epoch in milliseconds.
	ErrMalformedCutoff = errors.New("malformed cutoff: expected epoch milliseconds")
	// ErrMalformedPURL is returned for a package URL that cannot be parsed or carries no version.
	ErrMalformedPURL = errors.New("malformed package url")
)

// Engine answers queries against whatever generation the holder currently serves.
type Engine struct {
	holder *index.Holder
}

// NewEngine creates an Engine reading from holder.
func NewEngine(holder *index.Holder) *Engine {
	return &Engine{holder: holder}
}

// Snapshot returns the generation queries are currently served from.
func (e *Engine) Snapshot() *index.ModuleIndex {
	return e.holder.Load()
}

// CheckVersion returns the advisories for module whose vulnerable range
// contains version. An invalid version yields an empty result.
func (e *Engine) CheckVersion(module, version string) []*model.Advisory {
	return affecting(e.holder.Load(), module, version)
}

func affecting(idx *index.ModuleIndex, module, version string) []*model.Advisory {
	v, err := matcher.ParseVersion(version)
	if err != nil {
		return []*model.Advisory{}
	}
	return idx.Affecting(module, v)
}

// ListForModule returns every advisory for module, newest first.
func (e *Engine) ListForModule(module string) []*model.Advisory {
	return e.holder.Load().RecordsFor(module)
}

// ListSince returns the advisories whose effective date is at or after
// cutoff, in ingestion order.
func (e *Engine) ListSince(cutoff time.Time) []*model.Advisory {
	out := []*model.Advisory{}
	for _, rec := range e.holder.Load().All() {
		if !rec.EffectiveDate().Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

// ListAll returns every advisory in ingestion order.
func (e *Engine) ListAll() []*model.Advisory {
	return e.holder.Load().All()
}

// Get looks up one advisory by id.
func (e *Engine) Get(id string) (*model.Advisory, bool) {
	return e.holder.Load().Get(id)
}

// Latest returns the most recently published advisory.
func (e *Engine) Latest() (*model.Advisory, bool) {
	return e.holder.Load().Latest()
}

// TableOfContents groups advisories by the year of their effective date,
// newest year first and newest advisory first within a year.
func (e *Engine) TableOfContents() []model.YearGroup {
	all := e.holder.Load().All()
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].EffectiveDate().After(all[j].EffectiveDate())
	})

	groups := []model.YearGroup{}
	for _, rec := range all {
		year := rec.EffectiveDate().Year()
		if n := len(groups); n == 0 || groups[n-1].Year != year {
			groups = append(groups, model.YearGroup{Year: year})
		}
		last := &groups[len(groups)-1]
		last.Advisories = append(last.Advisories, rec)
	}
	return groups
}

// CheckPURL resolves a package URL such as pkg:npm/left-pad@1.0.5 to a
// module and version and runs CheckVersion.
func (e *Engine) CheckPURL(purl string) ([]*model.Advisory, error) {
	module, version, err := util.ModuleFromPURL(purl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPURL, err)
	}
	if version == "" {
		return nil, fmt.Errorf("%w: %q has no version", ErrMalformedPURL, purl)
	}
	return e.CheckVersion(module, version), nil
}

// CheckShrinkwrap walks every dependency in an npm shrinkwrap tree and
// reports each module version that has matching advisories. Siblings are
// visited in name order so the result is deterministic.
func (e *Engine) CheckShrinkwrap(sw model.Shrinkwrap) []model.Finding {
	idx := e.holder.Load()
	findings := []model.Finding{}

	var walk func(deps map[string]model.ShrinkwrapDependency, path []string)
	walk = func(deps map[string]model.ShrinkwrapDependency, path []string) {
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			dep := deps[name]
			depPath := append(append([]string{}, path...), name)
			if advs := affecting(idx, name, dep.Version); len(advs) > 0 {
				findings = append(findings, model.Finding{
					Module:     name,
					Version:    dep.Version,
					Path:       depPath,
					Advisories: advs,
				})
			}
			walk(dep.Dependencies, depPath)
		}
	}

	var root []string
	if sw.Name != "" {
		root = []string{sw.Name}
	}
	walk(sw.Dependencies, root)
	return findings
}

// CutoffFromEpochMillis parses a since parameter. Transport adapters call it
// before the engine so malformed input is reported as a caller error.
func CutoffFromEpochMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedCutoff, raw)
	}
	return time.UnixMilli(ms), nil
}
