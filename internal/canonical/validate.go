package canonical

import "fmt"

// ValidationError describes why a Request failed the ingress contract in
// §4.1: empty messages, an unknown role, a missing/out-of-range max_tokens,
// or an out-of-range temperature/top_p. The handler maps this 1:1 to a 400
// with error.type == "validation_error".
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}

// Validate checks a Request against the ingress contract. ceiling is the
// configured limits.max_tokens_ceiling; a request may ask for at most that
// many tokens.
func (r *Request) Validate(ceiling int) error {
	if len(r.Messages) == 0 {
		return &ValidationError{Reason: "messages must not be empty"}
	}

	hasUserOrSystem := false
	for i, msg := range r.Messages {
		switch msg.Role {
		case RoleUser, RoleSystem, RoleAssistant:
			// ok
		default:
			return &ValidationError{Reason: fmt.Sprintf("messages[%d]: unknown role %q", i, msg.Role)}
		}
		if msg.Role == RoleUser || msg.Role == RoleSystem {
			hasUserOrSystem = true
		}
	}
	if !hasUserOrSystem {
		return &ValidationError{Reason: "messages must contain at least one user or system message"}
	}

	if r.MaxTokens <= 0 {
		return &ValidationError{Reason: "max_tokens must be a positive integer"}
	}
	if ceiling > 0 && r.MaxTokens > ceiling {
		return &ValidationError{Reason: fmt.Sprintf("max_tokens %d exceeds configured ceiling %d", r.MaxTokens, ceiling)}
	}

	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return &ValidationError{Reason: "temperature must be between 0 and 2"}
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return &ValidationError{Reason: "top_p must be between 0 and 1"}
	}

	return nil
}
