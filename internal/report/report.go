package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/umredir/umredir/internal/logging"
)

const topN = 5

type Summary struct {
	Total      int            `json:"total"`
	Redirected int            `json:"redirected"`
	Passed     int            `json:"passed"`
	Failed     int            `json:"failed"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Surfaces   []CountItem    `json:"surfaces"`
	TopRules   []CountItem    `json:"top_rules"`
	TopHosts   []CountItem    `json:"top_hosts"`
	TopTargets []CountItem    `json:"top_targets"`
	Latency    LatencySummary `json:"latency"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type Reader struct {
	Since time.Time
}

// Read loads a decision log, skipping entries older than r.Since.
func (r *Reader) Read(path string) ([]logging.Decision, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var decisions []logging.Decision
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d logging.Decision
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if !r.Since.IsZero() && d.Timestamp.Before(r.Since) {
			continue
		}
		decisions = append(decisions, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func Summarize(decisions []logging.Decision) Summary {
	var summary Summary
	if len(decisions) == 0 {
		return summary
	}

	summary.Start = decisions[0].Timestamp
	summary.End = decisions[0].Timestamp

	surfaceCounts := map[string]int{}
	ruleCounts := map[string]int{}
	hostCounts := map[string]int{}
	targetCounts := map[string]int{}
	latencies := make([]int64, 0, len(decisions))

	for _, d := range decisions {
		summary.Total++
		if d.Timestamp.Before(summary.Start) {
			summary.Start = d.Timestamp
		}
		if d.Timestamp.After(summary.End) {
			summary.End = d.Timestamp
		}
		if d.Surface != "" {
			surfaceCounts[d.Surface]++
		}

		switch d.Action {
		case logging.ActionRedirect:
			// Status 0 means the surface could not deliver the redirect.
			if d.StatusCode == 0 {
				summary.Failed++
				break
			}
			summary.Redirected++
			ruleCounts["rule "+strconv.Itoa(d.RuleID)]++
			hostCounts[requestHost(d)]++
			if target := hostOf(d.Location); target != "" {
				targetCounts[target]++
			}
		case logging.ActionPass:
			summary.Passed++
		}

		latencies = append(latencies, d.DurationMS)
	}

	summary.Surfaces = topCounts(surfaceCounts, len(surfaceCounts))
	summary.TopRules = topCounts(ruleCounts, topN)
	summary.TopHosts = topCounts(hostCounts, topN)
	summary.TopTargets = topCounts(targetCounts, topN)
	summary.Latency = latencySummary(latencies)

	return summary
}

func requestHost(d logging.Decision) string {
	if d.Host != "" {
		return strings.ToLower(d.Host)
	}
	return hostOf(d.URL)
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "Redirected: %d\n", summary.Redirected)
	fmt.Fprintf(&b, "Passed: %d\n", summary.Passed)
	fmt.Fprintf(&b, "Failed: %d\n", summary.Failed)
	fmt.Fprintf(&b, "Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCounts(&b, "Surfaces", summary.Surfaces)
	writeCounts(&b, "Top rules", summary.TopRules)
	writeCounts(&b, "Top redirected hosts", summary.TopHosts)
	writeCounts(&b, "Top destinations", summary.TopTargets)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Media Redirect Report\n\n")
	if !summary.Start.IsZero() {
		fmt.Fprintf(&b, "%s to %s\n\n", summary.Start.Format(time.RFC3339), summary.End.Format(time.RFC3339))
	}
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Redirected: %d\n", summary.Redirected)
	fmt.Fprintf(&b, "- Passed: %d\n", summary.Passed)
	fmt.Fprintf(&b, "- Failed: %d\n", summary.Failed)
	fmt.Fprintf(&b, "- Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCountsMarkdown(&b, "Surfaces", summary.Surfaces)
	writeCountsMarkdown(&b, "Top rules", summary.TopRules)
	writeCountsMarkdown(&b, "Top redirected hosts", summary.TopHosts)
	writeCountsMarkdown(&b, "Top destinations", summary.TopTargets)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

// WriteOutput writes to path, or to w when path is empty.
func WriteOutput(w io.Writer, path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(w, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
