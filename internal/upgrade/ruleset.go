package upgrade

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Target is the target host for a given rule.
type Target struct {
	Host string `xml:"host,attr"`
}

// Exclusion is a RE pattern to ignore when processing a rule set.
type Exclusion struct {
	Pattern string `xml:"pattern,attr"`
}

// Rule is a rule to apply when processing a URL.
type Rule struct {
	From string `xml:"from,attr"`
	To   string `xml:"to,attr"`
}

// Ruleset is one HTTPS Everywhere ruleset file.
type Ruleset struct {
	Name      string      `xml:"name,attr"`
	Off       string      `xml:"default_off,attr"`
	Platform  string      `xml:"platform,attr"`
	Target    []Target    `xml:"target"`
	Exclusion []Exclusion `xml:"exclusion"`
	Rule      []Rule      `xml:"rule"`
}

// groupRef matches the $N back-references rulesets use; Go templates need
// them braced so "$1example" is not read as a group named "1example".
var groupRef = regexp.MustCompile(`\$(\d+)`)

type compiledRule struct {
	from *regexp.Regexp
	to   string
}

type compiledRuleset struct {
	name       string
	exclusions []*regexp.Regexp
	rules      []compiledRule
}

// rulesetIndex maps target host patterns to rulesets. Exact hosts and
// left-wildcard patterns ("*.example.com") are supported, which covers the
// forms used by the published rulesets.
type rulesetIndex struct {
	exact    map[string][]*compiledRuleset
	wildcard map[string][]*compiledRuleset
}

func newRulesetIndex() *rulesetIndex {
	return &rulesetIndex{
		exact:    make(map[string][]*compiledRuleset),
		wildcard: make(map[string][]*compiledRuleset),
	}
}

// ParseRuleset decodes one ruleset document.
func ParseRuleset(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := xml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	return &rs, nil
}

// LoadRulesetDir reads every *.xml ruleset in dir.
func LoadRulesetDir(dir string) ([]*Ruleset, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("glob rulesets: %w", err)
	}
	var out []*Ruleset
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ruleset %s: %w", path, err)
		}
		rs, err := ParseRuleset(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, rs)
	}
	return out, nil
}

func compileRuleset(rs *Ruleset) (*compiledRuleset, error) {
	c := &compiledRuleset{name: rs.Name}
	for _, ex := range rs.Exclusion {
		re, err := regexp.Compile(ex.Pattern)
		if err != nil {
			return nil, fmt.Errorf("ruleset %q: exclusion %q: %w", rs.Name, ex.Pattern, err)
		}
		c.exclusions = append(c.exclusions, re)
	}
	for _, r := range rs.Rule {
		re, err := regexp.Compile(r.From)
		if err != nil {
			return nil, fmt.Errorf("ruleset %q: rule %q: %w", rs.Name, r.From, err)
		}
		c.rules = append(c.rules, compiledRule{from: re, to: groupRef.ReplaceAllString(r.To, "$${$1}")})
	}
	return c, nil
}

func (idx *rulesetIndex) add(rs *Ruleset) error {
	if rs.Off != "" {
		return nil
	}
	c, err := compileRuleset(rs)
	if err != nil {
		return err
	}
	for _, t := range rs.Target {
		host := strings.ToLower(t.Host)
		if strings.HasPrefix(host, "*.") {
			idx.wildcard[host[2:]] = append(idx.wildcard[host[2:]], c)
		} else {
			idx.exact[host] = append(idx.exact[host], c)
		}
	}
	return nil
}

func (idx *rulesetIndex) lookup(host string) []*compiledRuleset {
	host = strings.ToLower(host)
	if rs, ok := idx.exact[host]; ok {
		return rs
	}
	for h := host; ; {
		dot := strings.IndexByte(h, '.')
		if dot < 0 {
			return nil
		}
		h = h[dot+1:]
		if rs, ok := idx.wildcard[h]; ok {
			return rs
		}
	}
}

// apply returns the rewritten URL string for raw, or "" when no rule applies.
func (c *compiledRuleset) apply(raw string) string {
	for _, ex := range c.exclusions {
		if ex.MatchString(raw) {
			return ""
		}
	}
	for _, r := range c.rules {
		if r.from.MatchString(raw) {
			return r.from.ReplaceAllString(raw, r.to)
		}
	}
	return ""
}
