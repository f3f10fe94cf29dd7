package intercept

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"

	"github.com/umredir/umredir/internal/engine"
	"github.com/umredir/umredir/internal/mapping"
	"github.com/umredir/umredir/internal/rules"
)

func TestPatternsPauseMediaAtRequestStage(t *testing.T) {
	patterns := Patterns()
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	if patterns[0].URLPattern == nil || *patterns[0].URLPattern != MediaPattern {
		t.Fatalf("unexpected url pattern %+v", patterns[0].URLPattern)
	}
	if patterns[0].RequestStage != fetch.RequestStageRequest {
		t.Fatalf("expected request stage, got %v", patterns[0].RequestStage)
	}
}

func TestRedirectArgs(t *testing.T) {
	table := engine.NewTable(0)
	pages := []mapping.Mapping{{MatchHost: "a.com", DestinationHost: "b.com"}}
	if err := table.AddRules(context.Background(), rules.Compile(pages)); err != nil {
		t.Fatalf("AddRules error: %v", err)
	}
	match, ok := table.Match("https://a.com/media/v.mp4")
	if !ok {
		t.Fatal("expected match")
	}

	args := redirectArgs("interception-1", match)
	if args.RequestID != "interception-1" || args.ResponseCode != http.StatusTemporaryRedirect {
		t.Fatalf("unexpected args %+v", args)
	}
	if args.ResponseHeaders[0].Name != "Location" || args.ResponseHeaders[0].Value != "https://b.com/media/v.mp4" {
		t.Fatalf("unexpected headers %+v", args.ResponseHeaders)
	}
}

func TestPickTarget(t *testing.T) {
	targets := []*devtool.Target{
		{ID: "sw", Type: devtool.ServiceWorker},
		{ID: "one", Type: devtool.Page},
		{ID: "two", Type: devtool.Page},
	}

	if got := pickTarget(targets, ""); got == nil || got.ID != "one" {
		t.Fatalf("expected first page, got %+v", got)
	}
	if got := pickTarget(targets, "two"); got == nil || got.ID != "two" {
		t.Fatalf("expected page two, got %+v", got)
	}
	if got := pickTarget(targets, "sw"); got != nil {
		t.Fatalf("expected non-page target to be skipped, got %+v", got)
	}
}

func TestRunWithoutPages(t *testing.T) {
	devtools := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer devtools.Close()

	i, err := New(engine.NewTable(0), Options{DevtoolsURL: devtools.URL})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := i.Run(context.Background()); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, Options{DevtoolsURL: "http://127.0.0.1:9222"}); err == nil {
		t.Fatal("expected error without matcher")
	}
	if _, err := New(engine.NewTable(0), Options{}); err == nil {
		t.Fatal("expected error without devtools url")
	}
}
