package router

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/relaygw/aigateway/internal/provider"
)

// Rule is one entry in an ordered routing policy: a Lua expression evaluated
// against request features, naming the provider to dispatch to if it
// returns a truthy value.
type Rule struct {
	ID       string
	Script   string
	Provider string
}

// ruleTimeout bounds how long a single rule's script may run, via the
// context gopher-lua polls during execution rather than an instruction
// quota.
const ruleTimeout = 50 * time.Millisecond

// RuleEngine evaluates an ordered list of Rules against request features.
// It holds no state beyond the immutable rule list — Evaluate is safe to
// call concurrently from multiple goroutines, each with its own *lua.LState.
type RuleEngine struct {
	rules []Rule
}

// NewRuleEngine builds a RuleEngine from a config-loaded rule list.
func NewRuleEngine(rules []Rule) *RuleEngine {
	return &RuleEngine{rules: rules}
}

// Evaluate runs rules in order and returns the provider_id of the first
// whose script returns true and names a provider with at least one enabled
// instance. A script error or an unknown/disabled provider skips that rule
// rather than failing the request — a misconfigured rule degrades routing,
// it never breaks it.
func (e *RuleEngine) Evaluate(ctx context.Context, f RequestFeatures, registry *provider.Registry) (string, bool) {
	for _, rule := range e.rules {
		if len(registry.Instances(rule.Provider)) == 0 {
			continue
		}
		matched, err := runRule(rule, f)
		if err != nil || !matched {
			continue
		}
		return rule.Provider, true
	}
	return "", false
}

// runRule evaluates one rule's script in a fresh Lua state with the
// request's features bound as globals, and reads back the boolean result
// left on top of the stack.
func runRule(rule Rule, f RequestFeatures) (bool, error) {
	L := lua.NewState(lua.Options{})
	defer L.Close()

	ctx, cancel := context.WithTimeout(context.Background(), ruleTimeout)
	defer cancel()
	L.SetContext(ctx)

	L.SetGlobal("model", lua.LString(f.Model))
	L.SetGlobal("message_count", lua.LNumber(f.MessageCount))
	L.SetGlobal("total_bytes", lua.LNumber(f.TotalBytes))
	L.SetGlobal("has_system", lua.LBool(f.HasSystem))

	if err := L.DoString(rule.Script); err != nil {
		return false, err
	}

	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}
