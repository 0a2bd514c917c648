// Package model - API types for combining models in API requests/responses
package model

// Shrinkwrap is the subset of an npm-shrinkwrap.json document needed to
// check a dependency tree against the index.
type Shrinkwrap struct {
	Name         string                          `json:"name,omitempty"`
	Version      string                          `json:"version,omitempty"`
	Dependencies map[string]ShrinkwrapDependency `json:"dependencies"`
}

// ShrinkwrapDependency is one resolved dependency and its own nested dependencies.
type ShrinkwrapDependency struct {
	Version      string                          `json:"version"`
	Dependencies map[string]ShrinkwrapDependency `json:"dependencies,omitempty"`
}

// Finding reports the advisories that affect one module version found in a dependency tree.
type Finding struct {
	Module     string      `json:"module"`
	Version    string      `json:"version"`
	Path       []string    `json:"path"` // Dependency chain from the root, ending with Module.
	Advisories []*Advisory `json:"advisories"`
}

// YearGroup lists the advisories published in one calendar year, newest first.
type YearGroup struct {
	Year       int         `json:"year"`
	Advisories []*Advisory `json:"advisories"`
}
