package model

// ModuleSummary identifies an indexed module by name and by its base
// package URL (without version, e.g. pkg:npm/lodash)
type ModuleSummary struct {
	Name       string `json:"name"`
	Purl       string `json:"purl"`
	Advisories int    `json:"advisories"` // Number of advisories indexed for the module
	ObjType    string `json:"objtype"`
}

// NewModuleSummary creates a new ModuleSummary instance
func NewModuleSummary() *ModuleSummary {
	return &ModuleSummary{
		ObjType: "Module",
	}
}
