package alerting

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/herald/internal/event"
)

// Tier names.
const (
	TierEarly    = "early"
	TierMid      = "mid"
	TierCritical = "critical"
)

// Tier is a named urgency level with a fixed channel and offset.
type Tier struct {
	Channel string        `yaml:"channel"`
	Offset  time.Duration `yaml:"offset"`
}

// Rule maps an event type (optionally narrowed by category) to tiers.
type Rule struct {
	Type     string   `yaml:"type"`
	Category string   `yaml:"category"`
	Tiers    []string `yaml:"tiers"`
}

// RulesFile is the on-disk shape of a rules file.
type RulesFile struct {
	Tiers map[string]Tier `yaml:"tiers"`
	Rules []Rule          `yaml:"rules"`
}

// Rules maps events to alert specs. It is immutable after construction and safe
// for concurrent use.
type Rules struct {
	tiers map[string]Tier
	rules map[string][]string // "category/type" or "/type" -> tier names
}

// DefaultTiers returns the built-in tiers with the given offsets.
func DefaultTiers(early, mid, critical time.Duration) map[string]Tier {
	return map[string]Tier{
		TierEarly:    {Channel: ChannelEmail, Offset: early},
		TierMid:      {Channel: ChannelSMS, Offset: mid},
		TierCritical: {Channel: ChannelVoice, Offset: critical},
	}
}

// DefaultRules returns the built-in event type mapping.
func DefaultRules() []Rule {
	return []Rule{
		{Type: "meeting", Tiers: []string{TierEarly, TierMid, TierCritical}},
		{Type: "incident", Tiers: []string{TierMid, TierCritical}},
		{Type: "deadline", Tiers: []string{TierEarly, TierCritical}},
	}
}

// NewRules validates tiers and rules. Tiers whose channel is not in enabled are
// dropped from every rule; a nil enabled set enables everything.
func NewRules(tiers map[string]Tier, rules []Rule, enabled map[string]bool) (*Rules, error) {
	var errs []error
	for name, t := range tiers {
		if t.Channel == "" {
			errs = append(errs, fmt.Errorf("tier %q: empty channel", name))
		}
		if t.Offset < 0 {
			errs = append(errs, fmt.Errorf("tier %q: negative offset %s", name, t.Offset))
		}
	}

	r := &Rules{
		tiers: make(map[string]Tier, len(tiers)),
		rules: make(map[string][]string, len(rules)),
	}
	for name, t := range tiers {
		r.tiers[name] = t
	}

	for _, rule := range rules {
		if rule.Type == "" {
			errs = append(errs, errors.New("rule: empty type"))
			continue
		}
		key := ruleKey(rule.Category, rule.Type)
		if _, dup := r.rules[key]; dup {
			errs = append(errs, fmt.Errorf("rule %q: defined twice", key))
			continue
		}
		var names []string
		seen := make(map[string]bool, len(rule.Tiers))
		for _, name := range rule.Tiers {
			t, ok := tiers[name]
			if !ok {
				errs = append(errs, fmt.Errorf("rule %q: unknown tier %q", key, name))
				continue
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			if enabled != nil && !enabled[t.Channel] {
				continue
			}
			names = append(names, name)
		}
		r.rules[key] = names
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// LoadRules reads a YAML rules file. Tiers in the file override the given
// defaults by name; rules in the file replace the default rules entirely.
func LoadRules(path string, defaults map[string]Tier, enabled map[string]bool) (*Rules, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	tiers := make(map[string]Tier, len(defaults)+len(f.Tiers))
	for name, t := range defaults {
		tiers[name] = t
	}
	for name, t := range f.Tiers {
		tiers[name] = t
	}
	rules := f.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return NewRules(tiers, rules, enabled)
}

// Evaluate returns the alert specs for an event, least urgent (largest offset)
// first. Unknown event types yield nil.
func (r *Rules) Evaluate(ev *event.Event) []AlertSpec {
	names, ok := r.rules[ruleKey(ev.Category, ev.Type)]
	if !ok {
		names, ok = r.rules[ruleKey("", ev.Type)]
	}
	if !ok || len(names) == 0 {
		return nil
	}

	specs := make([]AlertSpec, 0, len(names))
	for _, name := range names {
		t := r.tiers[name]
		specs = append(specs, AlertSpec{AlertType: name, Channel: t.Channel, Offset: t.Offset})
	}
	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].Offset > specs[j].Offset
	})
	return specs
}

func ruleKey(category, typ string) string {
	return category + "/" + typ
}
