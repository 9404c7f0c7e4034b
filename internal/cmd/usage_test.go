package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ccswap/ccswap/internal/usage"
)

func TestUsageReportOmitsTokens(t *testing.T) {
	results := []usage.Result{
		result("alpha", 42, 17, 2),
		errResult("beta", "HTTP 500"),
	}

	data, err := json.Marshal(usageReport(results))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "sk-ant-") {
		t.Fatalf("report leaks an access token: %s", data)
	}

	var rows []usageRow
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].FiveHour != 42 || rows[0].SevenDay != 17 || rows[0].Priority != 2 {
		t.Errorf("alpha row = %+v", rows[0])
	}
	if rows[0].ResetsAt != "2026-03-10T14:00:00Z" {
		t.Errorf("alpha ResetsAt = %q", rows[0].ResetsAt)
	}
	if rows[1].Error != "HTTP 500" {
		t.Errorf("beta Error = %q", rows[1].Error)
	}
}

func TestRenderUsageTable(t *testing.T) {
	results := []usage.Result{
		result("alpha", 42, 17, 0),
		errResult("beta", "timeout"),
	}

	out := renderUsageTable(results, time.UTC)

	if !strings.Contains(out, "NAME") || !strings.Contains(out, "SESSION") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "42%") || !strings.Contains(out, "17%") {
		t.Errorf("missing percentages:\n%s", out)
	}
	if !strings.Contains(out, "Mar 10 14:00") {
		t.Errorf("missing reset time:\n%s", out)
	}
	if !strings.Contains(out, "timeout") {
		t.Errorf("missing error row:\n%s", out)
	}
	if strings.Contains(out, "sk-ant-") {
		t.Errorf("table leaks an access token:\n%s", out)
	}
}
