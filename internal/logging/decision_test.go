package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDecisionLoggerWritesJSONL(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDecisionLogger(&buf)

	decisions := []Decision{
		{
			Timestamp:  time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
			RequestID:  "req-1",
			Surface:    "gateway",
			URL:        "https://a.com/media/x.png",
			Action:     ActionRedirect,
			RuleID:     1,
			Location:   "https://b.com/media/x.png",
			StatusCode: 307,
		},
		{RequestID: "req-2", Action: ActionPass, StatusCode: 404},
	}
	for _, d := range decisions {
		if err := logger.Write(d); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var parsed Decision
	if err := json.Unmarshal([]byte(lines[0]), &parsed); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if parsed.RuleID != 1 || parsed.Location != "https://b.com/media/x.png" {
		t.Fatalf("unexpected decision %+v", parsed)
	}
	if strings.Contains(lines[1], "rule_id") {
		t.Fatalf("expected rule_id omitted for pass, got %s", lines[1])
	}
}

func TestNilDecisionLogger(t *testing.T) {
	var logger *DecisionLogger
	if err := logger.Write(Decision{}); err != nil {
		t.Fatalf("expected nil logger to be a no-op, got %v", err)
	}
}
