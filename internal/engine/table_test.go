package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/umredir/umredir/internal/mapping"
	"github.com/umredir/umredir/internal/rules"
)

func compiled(pairs ...string) []rules.Rule {
	var mappings []mapping.Mapping
	for i := 0; i+1 < len(pairs); i += 2 {
		mappings = append(mappings, mapping.Mapping{MatchHost: pairs[i], DestinationHost: pairs[i+1]})
	}
	return rules.Compile(mappings)
}

func TestTableAddListRemove(t *testing.T) {
	ctx := context.Background()
	table := NewTable(0)

	if err := table.AddRules(ctx, compiled("a.com", "b.com", "c.com", "d.com")); err != nil {
		t.Fatalf("AddRules error: %v", err)
	}
	ids, err := table.RuleIDs(ctx)
	if err != nil {
		t.Fatalf("RuleIDs error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected ids %v", ids)
	}

	if err := table.RemoveRules(ctx, []int{1, 99}); err != nil {
		t.Fatalf("RemoveRules error: %v", err)
	}
	if err := table.RemoveRules(ctx, nil); err != nil {
		t.Fatalf("RemoveRules(nil) error: %v", err)
	}
	ids, _ = table.RuleIDs(ctx)
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("unexpected ids after removal %v", ids)
	}
}

func TestTableRejectsCollisionAtomically(t *testing.T) {
	ctx := context.Background()
	table := NewTable(0)

	if err := table.AddRules(ctx, compiled("a.com", "b.com")); err != nil {
		t.Fatalf("AddRules error: %v", err)
	}

	err := table.AddRules(ctx, compiled("x.com", "y.com", "z.com", "w.com"))
	var rejected *RejectedError
	if !errors.As(err, &rejected) || !errors.Is(err, ErrRejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.RuleID != 1 {
		t.Fatalf("expected rule 1 rejected, got %d", rejected.RuleID)
	}

	got := table.Rules()
	if len(got) != 1 || got[0].Condition.RegexFilter != rules.Pattern("a.com") {
		t.Fatalf("expected table unchanged, got %+v", got)
	}
}

func TestTableRejectsInvalidRules(t *testing.T) {
	ctx := context.Background()
	valid := compiled("a.com", "b.com")[0]

	badRegex := valid
	badRegex.Condition.RegexFilter = `^https?://(a.com`

	badGroup := valid
	badGroup.Action = rules.Action{Type: rules.ActionRedirect, Redirect: &rules.Redirect{RegexSubstitution: `https://b.com\2`}}

	noRedirect := valid
	noRedirect.Action = rules.Action{Type: "block"}

	zeroID := valid
	zeroID.ID = 0

	cases := map[string][]rules.Rule{
		"bad-regex":     {badRegex},
		"missing-group": {badGroup},
		"not-redirect":  {noRedirect},
		"zero-id":       {zeroID},
		"duplicate-ids": {valid, valid},
	}

	for name, batch := range cases {
		table := NewTable(0)
		if err := table.AddRules(ctx, batch); !errors.Is(err, ErrRejected) {
			t.Fatalf("%s: expected ErrRejected, got %v", name, err)
		}
		if table.Len() != 0 {
			t.Fatalf("%s: expected empty table, got %d rules", name, table.Len())
		}
	}
}

func TestTableQuota(t *testing.T) {
	ctx := context.Background()
	table := NewTable(2)

	err := table.AddRules(ctx, compiled("a.com", "b.com", "c.com", "d.com", "e.com", "f.com"))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected quota rejection, got %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("expected nothing installed, got %d", table.Len())
	}
}

func TestTableMatch(t *testing.T) {
	ctx := context.Background()
	table := NewTable(0)
	if err := table.AddRules(ctx, compiled("example.com", "cdn.example.net", "other.com", "cdn.other.net")); err != nil {
		t.Fatalf("AddRules error: %v", err)
	}

	m, ok := table.Match("https://example.com/media/foo.png")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Rule.ID != 1 || m.RedirectURL != "https://cdn.example.net/media/foo.png" {
		t.Fatalf("unexpected match %+v", m)
	}

	m, ok = table.Match("http://other.com/media/a/b.jpg?w=100")
	if !ok || m.RedirectURL != "https://cdn.other.net/media/a/b.jpg?w=100" {
		t.Fatalf("unexpected match %+v (%v)", m, ok)
	}

	if _, ok := table.Match("https://example.com/css/site.css"); ok {
		t.Fatal("expected no match outside /media/")
	}
	if _, ok := table.Match("https://sub.example.com/media/foo.png"); ok {
		t.Fatal("expected no match for other host")
	}
}

func TestTableMatchDollarInDestination(t *testing.T) {
	ctx := context.Background()
	table := NewTable(0)
	if err := table.AddRules(ctx, compiled("a.com", "b.com/$x")); err != nil {
		t.Fatalf("AddRules error: %v", err)
	}

	m, ok := table.Match("https://a.com/media/1.png")
	if !ok || m.RedirectURL != "https://b.com/$x/media/1.png" {
		t.Fatalf("unexpected match %+v (%v)", m, ok)
	}
}

func TestTableNotifyMatched(t *testing.T) {
	table := NewTable(0)
	var got []MatchInfo
	table.OnRuleMatched(func(info MatchInfo) { got = append(got, info) })
	table.OnRuleMatched(nil)

	table.NotifyMatched(MatchInfo{RuleID: 3, URL: "u"})
	if len(got) != 1 || got[0].RuleID != 3 {
		t.Fatalf("unexpected notifications %+v", got)
	}
}

func TestExpandTemplate(t *testing.T) {
	tmpl, maxGroup := expandTemplate(`https://b.com\1\\x$`)
	if tmpl != `https://b.com${1}\x$$` {
		t.Fatalf("unexpected template %q", tmpl)
	}
	if maxGroup != 1 {
		t.Fatalf("expected max group 1, got %d", maxGroup)
	}
}
