// Package policy is the authorization engine consulted by every mutating
// entry point, socket events and HTTP routes alike. Evaluation is pure and
// side-effect free: a registered predicate per (policyType, action), built
// once at startup, with fail-closed defaults for unknown types, unknown
// actions, and contexts missing required fields.
package policy

// Predicate decides one action against one context. Predicates may assume
// their rule's required fields are present; they must not mutate the context.
type Predicate func(*Context) bool

type rule struct {
	requires []Field
	allow    Predicate
}

// Policy type selectors.
const (
	TypeUser = "user"
	TypeGame = "game"
)

// Engine holds the registered evaluators. Build it once with NewEngine and
// share it; it is immutable after construction.
type Engine struct {
	policies map[string]map[string]rule
}

// NewEngine registers the user and game evaluators.
func NewEngine() *Engine {
	return &Engine{
		policies: map[string]map[string]rule{
			TypeUser: userRules(),
			TypeGame: gameRules(),
		},
	}
}

// Can evaluates one (policyType, context, action) triple. Unknown policy
// types and actions deny, as does a context lacking the action's required
// fields. It never panics on missing optional fields.
func (e *Engine) Can(policyType string, ctx *Context, action string) bool {
	actions, ok := e.policies[policyType]
	if !ok {
		return false
	}
	r, ok := actions[action]
	if !ok {
		return false
	}
	for _, f := range r.requires {
		if !ctx.has(f) {
			return false
		}
	}
	return r.allow(ctx)
}

// Check is one entry of a batch evaluation. Key defaults to
// "policyType:action" when empty.
type Check struct {
	Key        string
	PolicyType string
	Action     string
	Ctx        *Context
}

// CanAll evaluates an ordered batch of checks and returns a keyed result map.
// Each entry is evaluated independently; one denial never blocks the rest.
func (e *Engine) CanAll(checks []Check) map[string]bool {
	out := make(map[string]bool, len(checks))
	for _, c := range checks {
		key := c.Key
		if key == "" {
			key = c.PolicyType + ":" + c.Action
		}
		out[key] = e.Can(c.PolicyType, c.Ctx, c.Action)
	}
	return out
}
