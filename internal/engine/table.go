package engine

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/umredir/umredir/internal/rules"
)

const (
	DefaultMaxRules = 5000
	MaxRegexLength  = 2048

	regexCacheSize = 512
)

// MatchInfo describes a request that matched an installed rule.
type MatchInfo struct {
	RuleID      int
	URL         string
	RedirectURL string
	Surface     string
}

type Match struct {
	Rule        rules.Rule
	RedirectURL string
}

type installedRule struct {
	rule rules.Rule
	re   *regexp.Regexp
	tmpl string
}

// Table is the in-process rule engine. Enforcement surfaces call Match;
// the synchronizer drives it through the Engine interface.
type Table struct {
	mu       sync.RWMutex
	rules    map[int]*installedRule
	order    []*installedRule
	maxRules int
	cache    *lru.Cache[string, *regexp.Regexp]

	listenersMu sync.RWMutex
	listeners   []func(MatchInfo)
}

var _ Engine = (*Table)(nil)

func NewTable(maxRules int) *Table {
	if maxRules <= 0 {
		maxRules = DefaultMaxRules
	}
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Table{
		rules:    make(map[int]*installedRule),
		maxRules: maxRules,
		cache:    cache,
	}
}

func (t *Table) RuleIDs(ctx context.Context) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]int, 0, len(t.rules))
	for id := range t.rules {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (t *Table) RemoveRules(ctx context.Context, ids []int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.rules, id)
	}
	t.rebuildOrder()
	return nil
}

func (t *Table) AddRules(ctx context.Context, rs []rules.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rs) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Validate the whole batch before touching the table.
	batch := make([]*installedRule, 0, len(rs))
	seen := make(map[int]struct{}, len(rs))
	for i, r := range rs {
		if r.ID < 1 {
			return reject(r.ID, "id must be >= 1")
		}
		if _, dup := seen[r.ID]; dup {
			return reject(r.ID, "duplicate id in batch")
		}
		seen[r.ID] = struct{}{}
		if _, exists := t.rules[r.ID]; exists {
			return reject(r.ID, "id collides with an installed rule")
		}
		if len(t.rules)+i+1 > t.maxRules {
			return reject(r.ID, "rule quota of %d exceeded", t.maxRules)
		}

		installed, err := t.prepare(r)
		if err != nil {
			return err
		}
		batch = append(batch, installed)
	}

	for _, installed := range batch {
		t.rules[installed.rule.ID] = installed
	}
	t.rebuildOrder()
	return nil
}

// Rules returns a snapshot of the installed rules in evaluation order.
func (t *Table) Rules() []rules.Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]rules.Rule, len(t.order))
	for i, installed := range t.order {
		out[i] = installed.rule
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}

// Match returns the rule that applies to url, highest priority first and
// lowest ID on ties, along with the redirect target.
func (t *Table) Match(url string) (Match, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, installed := range t.order {
		loc := installed.re.FindStringSubmatchIndex(url)
		if loc == nil {
			continue
		}
		target := installed.re.ExpandString(nil, installed.tmpl, url, loc)
		return Match{Rule: installed.rule, RedirectURL: string(target)}, true
	}
	return Match{}, false
}

// OnRuleMatched registers a debug listener. Listeners only observe matches.
func (t *Table) OnRuleMatched(fn func(MatchInfo)) {
	if fn == nil {
		return
	}
	t.listenersMu.Lock()
	t.listeners = append(t.listeners, fn)
	t.listenersMu.Unlock()
}

// NotifyMatched is called by enforcement surfaces after applying a match.
func (t *Table) NotifyMatched(info MatchInfo) {
	t.listenersMu.RLock()
	defer t.listenersMu.RUnlock()
	for _, fn := range t.listeners {
		fn(info)
	}
}

func (t *Table) prepare(r rules.Rule) (*installedRule, error) {
	if r.Action.Type != rules.ActionRedirect {
		return nil, reject(r.ID, "unsupported action %q", r.Action.Type)
	}
	substitution := r.Substitution()
	if substitution == "" {
		return nil, reject(r.ID, "redirect substitution is required")
	}

	pattern := r.Condition.RegexFilter
	if pattern == "" {
		return nil, reject(r.ID, "regexFilter is required")
	}
	if len(pattern) > MaxRegexLength {
		return nil, reject(r.ID, "regexFilter longer than %d bytes", MaxRegexLength)
	}

	re, err := t.compile(pattern)
	if err != nil {
		return nil, reject(r.ID, "invalid regexFilter: %v", err)
	}

	tmpl, maxGroup := expandTemplate(substitution)
	if maxGroup > re.NumSubexp() {
		return nil, reject(r.ID, "substitution references group %d, filter has %d", maxGroup, re.NumSubexp())
	}

	return &installedRule{rule: r, re: re, tmpl: tmpl}, nil
}

func (t *Table) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := t.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	t.cache.Add(pattern, re)
	return re, nil
}

func (t *Table) rebuildOrder() {
	order := make([]*installedRule, 0, len(t.rules))
	for _, installed := range t.rules {
		order = append(order, installed)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].rule.Priority == order[j].rule.Priority {
			return order[i].rule.ID < order[j].rule.ID
		}
		return order[i].rule.Priority > order[j].rule.Priority
	})
	t.order = order
}

// expandTemplate converts a substitution using \N backreferences into
// regexp.Expand syntax and reports the highest group referenced.
func expandTemplate(substitution string) (string, int) {
	var b strings.Builder
	maxGroup := 0
	for i := 0; i < len(substitution); i++ {
		c := substitution[i]
		switch {
		case c == '$':
			b.WriteString("$$")
		case c == '\\' && i+1 < len(substitution) && substitution[i+1] >= '0' && substitution[i+1] <= '9':
			group := int(substitution[i+1] - '0')
			if group > maxGroup {
				maxGroup = group
			}
			b.WriteString("${")
			b.WriteByte(substitution[i+1])
			b.WriteString("}")
			i++
		case c == '\\' && i+1 < len(substitution) && substitution[i+1] == '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), maxGroup
}
