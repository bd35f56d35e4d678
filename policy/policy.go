// Package policy decides whether a caller may perform an action on a target.
//
// Decisions are a table lookup keyed by Action; each entry is a list of rules
// that must all pass. The caller's identity is always passed in explicitly.
package policy

import (
	"fmt"

	"freightflow/domain"
)

type Action string

const (
	RequestCreate      Action = "request.create"
	RequestEdit        Action = "request.edit"
	RequestPublish     Action = "request.publish"
	RequestCancel      Action = "request.cancel"
	RequestAdvance     Action = "request.advance"
	RequestTimeline    Action = "request.timeline"
	QuoteSubmit        Action = "quote.submit"
	QuoteAccept        Action = "quote.accept"
	QuoteReject        Action = "quote.reject"
	QuoteWithdraw      Action = "quote.withdraw"
	ReviewCreate       Action = "review.create"
	AgentUpdateProfile Action = "agent.update_profile"
)

// Caller is the authenticated principal behind an operation.
type Caller struct {
	ID   string
	Role domain.Role
}

// Target carries the relationships a rule may inspect. Fields irrelevant to
// an action are left zero.
type Target struct {
	OwnerID         string
	AssignedAgentID string
	QuoteAgentID    string
	ProfileUserID   string
	QuotePrice      float64
	AgentVerified   bool
}

// Rule returns nil to allow or a reason to deny.
type Rule func(c Caller, t Target) error

type Policy struct {
	rules map[Action][]Rule
}

// New returns the default marketplace table.
func New() *Policy {
	p := &Policy{rules: make(map[Action][]Rule)}
	shipper := RoleIn(domain.RoleIndividual, domain.RoleBusiness)

	p.rules[RequestCreate] = []Rule{shipper}
	p.rules[RequestEdit] = []Rule{IsOwner}
	p.rules[RequestPublish] = []Rule{IsOwner}
	p.rules[RequestCancel] = []Rule{IsOwner}
	p.rules[RequestAdvance] = []Rule{AnyOf(IsOwner, IsAssignedAgent)}
	p.rules[RequestTimeline] = []Rule{AnyOf(IsOwner, IsAssignedAgent)}
	p.rules[QuoteSubmit] = []Rule{RoleIn(domain.RoleAgent)}
	p.rules[QuoteAccept] = []Rule{IsOwner}
	p.rules[QuoteReject] = []Rule{IsOwner}
	p.rules[QuoteWithdraw] = []Rule{IsQuoteAgent}
	p.rules[ReviewCreate] = []Rule{AnyOf(IsOwner, IsAssignedAgent)}
	p.rules[AgentUpdateProfile] = []Rule{RoleIn(domain.RoleAgent), IsProfileOwner}
	return p
}

// WithRule appends an extra rule to action. It returns p for chaining.
func (p *Policy) WithRule(action Action, rule Rule) *Policy {
	p.rules[action] = append(p.rules[action], rule)
	return p
}

// Authorize returns nil when every rule for action passes. Any denial, an
// anonymous caller or an unknown action yields domain.ErrForbidden.
func (p *Policy) Authorize(c Caller, action Action, t Target) error {
	if c.ID == "" || !c.Role.Valid() {
		return fmt.Errorf("policy: %s: anonymous caller: %w", action, domain.ErrForbidden)
	}
	rules, ok := p.rules[action]
	if !ok {
		return fmt.Errorf("policy: %s: unknown action: %w", action, domain.ErrForbidden)
	}
	for _, rule := range rules {
		if err := rule(c, t); err != nil {
			return fmt.Errorf("policy: %s: %v: %w", action, err, domain.ErrForbidden)
		}
	}
	return nil
}
