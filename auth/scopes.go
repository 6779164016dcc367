package auth

import "strings"

// ScopeMode selects how RequireScopes combines the required scopes.
type ScopeMode int

const (
	// ScopeModeAll requires every scope.
	ScopeModeAll ScopeMode = iota
	// ScopeModeAny requires at least one.
	ScopeModeAny
)

// RequireScopes applies a scope policy to a verified descriptor. It is meant
// for the transport or dispatch layer; Verify never enforces scopes. An
// empty required set always passes.
func RequireScopes(desc *AccessDescriptor, mode ScopeMode, required ...string) error {
	if len(required) == 0 {
		return nil
	}
	if desc == nil {
		return reject(InsufficientScope, "no access descriptor", nil)
	}
	if mode == ScopeModeAny {
		for _, s := range required {
			if desc.HasScope(s) {
				return nil
			}
		}
		return reject(InsufficientScope, "requires one of: "+strings.Join(required, " "), nil)
	}
	var missing []string
	for _, s := range required {
		if !desc.HasScope(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return reject(InsufficientScope, "missing scope: "+strings.Join(missing, " "), nil)
	}
	return nil
}
