package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"freightflow/domain"
)

func RoleIn(roles ...domain.Role) Rule {
	return func(c Caller, _ Target) error {
		if slices.Contains(roles, c.Role) {
			return nil
		}
		return fmt.Errorf("role %s not allowed", c.Role)
	}
}

func IsOwner(c Caller, t Target) error {
	if t.OwnerID != "" && t.OwnerID == c.ID {
		return nil
	}
	return errors.New("caller is not the request owner")
}

func IsAssignedAgent(c Caller, t Target) error {
	if c.Role == domain.RoleAgent && t.AssignedAgentID != "" && t.AssignedAgentID == c.ID {
		return nil
	}
	return errors.New("caller is not the assigned agent")
}

func IsQuoteAgent(c Caller, t Target) error {
	if t.QuoteAgentID != "" && t.QuoteAgentID == c.ID {
		return nil
	}
	return errors.New("caller did not submit the quote")
}

func IsProfileOwner(c Caller, t Target) error {
	if t.ProfileUserID != "" && t.ProfileUserID == c.ID {
		return nil
	}
	return errors.New("caller does not own the profile")
}

// AnyOf passes when at least one rule passes.
func AnyOf(rules ...Rule) Rule {
	return func(c Caller, t Target) error {
		reasons := make([]string, 0, len(rules))
		for _, r := range rules {
			err := r(c, t)
			if err == nil {
				return nil
			}
			reasons = append(reasons, err.Error())
		}
		return errors.New(strings.Join(reasons, "; "))
	}
}

// AgentVerifiedAbove requires a verified agent for quotes priced above limit.
// A non-positive limit disables the check.
func AgentVerifiedAbove(limit float64) Rule {
	return func(_ Caller, t Target) error {
		if limit <= 0 || t.QuotePrice <= limit || t.AgentVerified {
			return nil
		}
		return fmt.Errorf("quotes above %.2f need a verified agent", limit)
	}
}
