package privacy

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is one catalog entry: a category and the pattern that detects it.
//
// RE2 has no look-around, so a rule may carry guard patterns that veto a
// match based on the text immediately before or after it. A vetoed match is
// left in place for later rules.
type Rule struct {
	Category           Category
	Pattern            *regexp.Regexp
	RejectIfPrecededBy *regexp.Regexp // matched against text[:start], should end in $
	RejectIfFollowedBy *regexp.Regexp // matched against text[end:], should start with ^
}

// FindAll returns the accepted, non-overlapping match spans of the rule in text
func (r Rule) FindAll(text string) []Span {
	locs := r.Pattern.FindAllStringIndex(text, -1)
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		if loc[0] == loc[1] {
			continue
		}
		if r.RejectIfPrecededBy != nil && r.RejectIfPrecededBy.MatchString(text[:loc[0]]) {
			continue
		}
		if r.RejectIfFollowedBy != nil && r.RejectIfFollowedBy.MatchString(text[loc[1]:]) {
			continue
		}
		spans = append(spans, Span{Start: loc[0], End: loc[1]})
	}
	return spans
}

// builtinRule describes a default catalog entry in source form
type builtinRule struct {
	category   Category
	pattern    string
	precededBy string
	followedBy string
}

var builtinRules = []builtinRule{
	{category: CategoryFullName, pattern: `\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`},
	{category: CategoryEmail, pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
	{category: CategoryPhoneNumber, pattern: `(?:\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`},
	{category: CategoryDateOfBirth, pattern: `\b\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}\b`},
	// A fourth digit group means this is the head of a card number
	{category: CategoryNationalID, pattern: `\b\d{4}[-.\s]?\d{4}[-.\s]?\d{4}\b`, followedBy: `^[-.\s]?\d`},
	{category: CategoryCardNumber, pattern: `\b(?:\d{4}[-.\s]?){3}\d{4}\b`},
	// Digits after a month and separator belong to an expiry
	{category: CategoryCardSecurity, pattern: `\b\d{3,4}\b`, precededBy: `\b(?:0[1-9]|1[0-2])[-/.]$`},
	{category: CategoryCardExpiry, pattern: `\b(?:0[1-9]|1[0-2])[-/.]\d{2,4}\b`},
}

// defaultRules is compiled once; rules are read-only after init
var defaultRules = compileBuiltins()

func compileBuiltins() []Rule {
	rules := make([]Rule, 0, len(builtinRules))
	for _, b := range builtinRules {
		rule := Rule{
			Category: b.category,
			Pattern:  regexp.MustCompile(b.pattern),
		}
		if b.precededBy != "" {
			rule.RejectIfPrecededBy = regexp.MustCompile(b.precededBy)
		}
		if b.followedBy != "" {
			rule.RejectIfFollowedBy = regexp.MustCompile(b.followedBy)
		}
		rules = append(rules, rule)
	}
	return rules
}

// Catalog is an ordered, immutable list of rules.
// Order matters: each rule sees the text already rewritten by the rules before it.
type Catalog struct {
	rules []Rule
}

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() *Catalog {
	return &Catalog{rules: defaultRules}
}

// NewCatalog builds a catalog from rules, keeping their order
func NewCatalog(rules ...Rule) (*Catalog, error) {
	seen := make(map[Category]bool, len(rules))
	for i, rule := range rules {
		if err := validateCategory(rule.Category); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if rule.Pattern == nil {
			return nil, fmt.Errorf("rule %d (%s): pattern is required", i, rule.Category)
		}
		if seen[rule.Category] {
			return nil, fmt.Errorf("rule %d: duplicate category %s", i, rule.Category)
		}
		seen[rule.Category] = true
	}
	return &Catalog{rules: append([]Rule(nil), rules...)}, nil
}

// CompileRule compiles a configuration-supplied rule
func CompileRule(category, expr string) (Rule, error) {
	if err := validateCategory(Category(category)); err != nil {
		return Rule{}, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to compile pattern for %s: %w", category, err)
	}
	if re.MatchString("") {
		return Rule{}, fmt.Errorf("pattern for %s matches the empty string", category)
	}
	return Rule{Category: Category(category), Pattern: re}, nil
}

// validateCategory rejects names that would make a placeholder ambiguous
func validateCategory(c Category) error {
	name := string(c)
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("category name is required")
	}
	if strings.ContainsAny(name, "[] \t\r\n") {
		return fmt.Errorf("invalid category name %q", name)
	}
	return nil
}

// Select returns a catalog restricted to the named categories, in catalog
// order. The name "all" selects every rule.
func (c *Catalog) Select(names []string) (*Catalog, error) {
	wanted := make(map[Category]bool, len(names))
	for _, name := range names {
		if name == "all" {
			return c, nil
		}
		if c.Rule(Category(name)) == nil {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
		wanted[Category(name)] = true
	}

	selected := make([]Rule, 0, len(wanted))
	for _, rule := range c.rules {
		if wanted[rule.Category] {
			selected = append(selected, rule)
		}
	}
	return &Catalog{rules: selected}, nil
}

// With returns a new catalog with extra rules appended after the existing ones
func (c *Catalog) With(extra ...Rule) (*Catalog, error) {
	return NewCatalog(append(c.Rules(), extra...)...)
}

// Rules returns a copy of the rules in order
func (c *Catalog) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Rule returns the rule for a category, or nil
func (c *Catalog) Rule(category Category) *Rule {
	for i := range c.rules {
		if c.rules[i].Category == category {
			rule := c.rules[i]
			return &rule
		}
	}
	return nil
}

// Categories returns the category names in catalog order
func (c *Catalog) Categories() []string {
	names := make([]string, len(c.rules))
	for i, rule := range c.rules {
		names[i] = string(rule.Category)
	}
	return names
}

// Len returns the number of rules
func (c *Catalog) Len() int {
	return len(c.rules)
}
