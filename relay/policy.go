package relay

import (
	"net"
	"sync"

	"github.com/gortc/turnrelay/addr"
)

// Action is the disposition a Policy assigns to a candidate peer.
type Action byte

// Possible actions a Rule can return.
const (
	Pass Action = iota
	Allow
	Forbid
)

// Rule evaluates one address against a single condition.
type Rule interface {
	Action(e addr.Endpoint) Action
}

type subnetRule struct {
	action Action
	net    *net.IPNet
}

func (r subnetRule) Action(e addr.Endpoint) Action {
	if r.net.Contains(e.IP) {
		return r.action
	}
	return Pass
}

// AllowSubnet allows any endpoint whose address falls within subnet.
func AllowSubnet(subnet string) (Rule, error) {
	return staticSubnetRule(Allow, subnet)
}

// ForbidSubnet denies any endpoint whose address falls within subnet.
func ForbidSubnet(subnet string) (Rule, error) {
	return staticSubnetRule(Forbid, subnet)
}

func staticSubnetRule(action Action, subnet string) (Rule, error) {
	_, parsed, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, err
	}
	return subnetRule{action: action, net: parsed}, nil
}

type allowAll struct{}

func (allowAll) Action(addr.Endpoint) Action { return Allow }

// AllowAll is a Rule that always allows.
var AllowAll Rule = allowAll{}

// Policy gates which peers a State is willing to SetPeer; Send does not
// consult it. It is a list of Rule plus a default Action for addresses no rule
// claims, the same shape as the teacher's client-facing address filter
// but evaluated against relay peers instead of local clients.
type Policy struct {
	mux     sync.RWMutex
	action  Action
	rules   []Rule
}

// NewPolicy builds a Policy with the given default action and rule set,
// evaluated in order; the first rule to return other than Pass decides.
func NewPolicy(action Action, rules ...Rule) *Policy {
	return &Policy{action: action, rules: rules}
}

// SetAction replaces the default action applied when no rule matches.
func (p *Policy) SetAction(action Action) {
	p.mux.Lock()
	p.action = action
	p.mux.Unlock()
}

// SetRules replaces the rule set wholesale.
func (p *Policy) SetRules(rules []Rule) {
	p.mux.Lock()
	p.rules = append(p.rules[:0], rules...)
	p.mux.Unlock()
}

// Action implements Rule, evaluating e against the configured rules in
// order and falling back to the default action.
func (p *Policy) Action(e addr.Endpoint) Action {
	p.mux.RLock()
	defer p.mux.RUnlock()
	for _, r := range p.rules {
		if a := r.Action(e); a != Pass {
			return a
		}
	}
	return p.action
}

// Allowed reports whether policy, which may be nil (no policy configured,
// everything allowed), permits e as a peer.
func Allowed(policy *Policy, e addr.Endpoint) bool {
	if policy == nil {
		return true
	}
	return policy.Action(e) != Forbid
}
