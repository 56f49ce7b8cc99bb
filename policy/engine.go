package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the chat policy.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Input is the document evaluated by the chat policy.
type Input struct {
	Action  string   `json:"action"`
	UserID  string   `json:"user_id"`
	// OwnerID is empty for a session that does not exist yet. It must still
	// be present in the input document for is_owner to match.
	OwnerID string   `json:"owner_id"`
	Roles   []string `json:"roles"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy.decision"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the chat policy and returns the decision.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	if input.Roles == nil {
		input.Roles = []string{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// The policy defines a default, so an empty result means it was replaced
	// by one that does not; fail closed.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeny, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionDeny, nil
}

// Allowed is a convenience wrapper around Evaluate.
func (e *Engine) Allowed(ctx context.Context, input Input) (bool, error) {
	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		return false, err
	}
	return decision == DecisionAllow, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package chat_policy

default decision = "deny"

known_role {
	input.roles[_] == "admin"
}

known_role {
	input.roles[_] == "auditor"
}

known_role {
	input.roles[_] == "viewer"
}

is_admin {
	input.roles[_] == "admin"
}

is_owner {
	input.owner_id == ""
}

is_owner {
	input.owner_id == input.user_id
}

# Any dashboard role may talk to the assistant in its own conversations.
decision = "allow" {
	input.action == "chat.send"
	known_role
	is_owner
}

# Owners and admins may read or cancel a conversation.
decision = "allow" {
	input.action == "chat.history"
	is_owner
}

decision = "allow" {
	input.action == "chat.history"
	is_admin
}

decision = "allow" {
	input.action == "chat.cancel"
	is_owner
}

decision = "allow" {
	input.action == "chat.cancel"
	is_admin
}
`
