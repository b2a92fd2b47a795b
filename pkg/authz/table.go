package authz

import "strings"

// Role names used in access token claims.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Rule protects one route: a request matching Method and Path requires a
// valid access token whose roles intersect Roles. An empty Roles slice
// means any authenticated principal.
type Rule struct {
	Method string
	// Path matches exactly, or as a prefix when it ends with "/*".
	Path  string
	Roles []string
}

// Table is the complete set of protected routes, constructed statically
// by the wiring code.
type Table struct {
	rules []Rule
}

// NewTable creates a route table from explicit rules.
func NewTable(rules ...Rule) *Table {
	return &Table{rules: rules}
}

// Lookup returns the rule protecting method+path, or nil when the route
// is public.
func (t *Table) Lookup(method, path string) *Rule {
	for i := range t.rules {
		rule := &t.rules[i]
		if rule.Method != method {
			continue
		}
		if matchPath(rule.Path, path) {
			return rule
		}
	}
	return nil
}

func matchPath(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return pattern == path
}

// Allowed reports whether any of the principal's roles satisfies the rule.
func (r *Rule) Allowed(roles []string) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, have := range roles {
		for _, want := range r.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
