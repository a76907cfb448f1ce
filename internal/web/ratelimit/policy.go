package ratelimit

import (
	"fmt"
	"sort"
	"time"
)

// Category names a rate limit policy
type Category int

const (
	// CategoryAuthSignIn guards credential checks
	CategoryAuthSignIn Category = iota
	// CategoryAuthSignUp guards account creation
	CategoryAuthSignUp
	// CategoryPasswordReset guards reset-link requests
	CategoryPasswordReset
	// CategoryAPIGeneral is applied to every API route
	CategoryAPIGeneral
	// CategoryAIGeneration guards LLM-backed content generation
	CategoryAIGeneration
	// CategoryCommentCreate guards comment posting
	CategoryCommentCreate
	// CategoryUpload guards object storage uploads
	CategoryUpload
	// CategoryAdmin guards the administration API
	CategoryAdmin
)

var categoryNames = map[Category]string{
	CategoryAuthSignIn:    "auth-signin",
	CategoryAuthSignUp:    "auth-signup",
	CategoryPasswordReset: "password-reset",
	CategoryAPIGeneral:    "api-general",
	CategoryAIGeneration:  "ai-generation",
	CategoryCommentCreate: "comment-create",
	CategoryUpload:        "upload",
	CategoryAdmin:         "admin",
}

// String returns the configuration name of the category
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ParseCategory resolves a configuration name to a Category
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// Categories returns every known category in declaration order
func Categories() []Category {
	out := make([]Category, 0, len(categoryNames))
	for c := range categoryNames {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Policy is the quota for one category: Max requests per Window
type Policy struct {
	Window time.Duration
	Max    int
}

// Validate checks that both window and max are positive
func (p Policy) Validate() error {
	if p.Max <= 0 {
		return fmt.Errorf("max must be greater than 0, got %d", p.Max)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be greater than 0, got %s", p.Window)
	}
	return nil
}

// CategoryPolicy pairs a category with its resolved policy
type CategoryPolicy struct {
	Category Category
	Policy   Policy
}

// Policies is the immutable category table resolved at startup
type Policies struct {
	table map[Category]Policy
}

// DefaultPolicyTable returns the built-in quotas
func DefaultPolicyTable() map[Category]Policy {
	return map[Category]Policy{
		CategoryAuthSignIn:    {Window: 15 * time.Minute, Max: 5},
		CategoryAuthSignUp:    {Window: time.Hour, Max: 3},
		CategoryPasswordReset: {Window: time.Hour, Max: 3},
		CategoryAPIGeneral:    {Window: time.Minute, Max: 100},
		CategoryAIGeneration:  {Window: time.Minute, Max: 10},
		CategoryCommentCreate: {Window: time.Minute, Max: 20},
		CategoryUpload:        {Window: time.Minute, Max: 10},
		CategoryAdmin:         {Window: time.Minute, Max: 60},
	}
}

// DefaultPolicies returns the built-in table as Policies
func DefaultPolicies() Policies {
	p, _ := NewPolicies(nil)
	return p
}

// NewPolicies resolves the default table with overrides applied.
// Every resulting policy must be valid.
func NewPolicies(overrides map[Category]Policy) (Policies, error) {
	table := DefaultPolicyTable()
	for c, p := range overrides {
		if _, ok := categoryNames[c]; !ok {
			return Policies{}, fmt.Errorf("%w: %d", ErrUnknownCategory, int(c))
		}
		table[c] = p
	}
	for c, p := range table {
		if err := p.Validate(); err != nil {
			return Policies{}, fmt.Errorf("policy %s: %w", c, err)
		}
	}
	return Policies{table: table}, nil
}

// Lookup returns the policy for a category
func (p Policies) Lookup(c Category) (Policy, bool) {
	policy, ok := p.table[c]
	return policy, ok
}

// All returns every category and its policy in declaration order
func (p Policies) All() []CategoryPolicy {
	out := make([]CategoryPolicy, 0, len(p.table))
	for _, c := range Categories() {
		if policy, ok := p.table[c]; ok {
			out = append(out, CategoryPolicy{Category: c, Policy: policy})
		}
	}
	return out
}
