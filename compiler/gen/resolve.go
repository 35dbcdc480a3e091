package gen

import (
	"strings"
)

// Resolve maps a canonical URL to a type identifier. An exact entry in
// mappings always wins. Otherwise a URL inside baseURL resolves to its
// final path segment. Anything else is unresolvable.
//
// A mapped value that is itself a URL (it contains a slash) contributes its
// final path segment, so a mapping may point at another definition:
//
//	"http://hl7.org/fhirpath/System.String" -> "http://hl7.org/fhir/StructureDefinition/string"
//
// resolves to "string".
func Resolve(url, baseURL string, mappings map[string]string) (TypeID, error) {
	if v, ok := mappings[url]; ok {
		if strings.Contains(v, "/") {
			return TypeID(lastSegment(v)), nil
		}
		return TypeID(v), nil
	}
	if baseURL != "" && strings.HasPrefix(url, baseURL+"/") {
		if seg := lastSegment(url); seg != "" {
			return TypeID(seg), nil
		}
	}
	return "", NewUnresolvableReferenceError(url)
}

// lastSegment returns the final path segment of u with any "|version"
// suffix removed.
func lastSegment(u string) string {
	if i := strings.IndexByte(u, '|'); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		return u[i+1:]
	}
	return u
}

// Resolver binds Resolve to a configuration.
type Resolver struct {
	BaseURL  string
	Mappings map[string]string
}

// NewResolver returns the resolver of the configuration.
func NewResolver(c *Config) *Resolver {
	return &Resolver{BaseURL: c.BaseURL, Mappings: c.Mappings}
}

// Resolve resolves a canonical URL.
func (r *Resolver) Resolve(url string) (TypeID, error) {
	return Resolve(url, r.BaseURL, r.Mappings)
}

// CodeURL expands an element type code into a canonical URL. Codes that
// are already absolute are returned as is.
func (r *Resolver) CodeURL(code string) string {
	if isAbsolute(code) {
		return code
	}
	return r.BaseURL + "/StructureDefinition/" + code
}

func isAbsolute(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "urn:")
}
