// Package util provides small helpers shared by the advisory index packages:
// environment lookups, logger setup and package-url handling.
package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/package-url/packageurl-go"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// IsNotEmpty checks if a string is not empty
func IsNotEmpty(s string) bool {
	return !IsEmpty(s)
}

// ParsePURL parses a PURL string and returns the parsed PackageURL
func ParsePURL(purlStr string) (*packageurl.PackageURL, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// ModuleFromPURL extracts the module name and version from a PURL.
// Namespaced packages keep their namespace, so pkg:npm/%40hapi/joi@17.1.0
// yields "@hapi/joi" and "17.1.0".
func ModuleFromPURL(purlStr string) (module, version string, err error) {
	parsed, err := ParsePURL(purlStr)
	if err != nil {
		return "", "", err
	}
	if parsed.Name == "" {
		return "", "", fmt.Errorf("purl %q has no name", purlStr)
	}

	module = parsed.Name
	if parsed.Namespace != "" {
		module = parsed.Namespace + "/" + parsed.Name
	}
	return module, parsed.Version, nil
}

// ModulePURL builds the versionless npm package URL for a module name.
// Example: @hapi/joi -> pkg:npm/%40hapi/joi
func ModulePURL(module string) string {
	namespace, name := "", module
	if i := strings.LastIndex(module, "/"); i >= 0 {
		namespace, name = module[:i], module[i+1:]
	}
	return packageurl.NewPackageURL(packageurl.TypeNPM, namespace, name, "", nil, "").ToString()
}
