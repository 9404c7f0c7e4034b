package selector

import (
	"strings"
	"testing"

	"github.com/ccswap/ccswap/internal/usage"
)

func account(name string, session, weekly int, priority int) usage.Result {
	s, w := session, weekly
	return usage.Result{
		Candidate: usage.Candidate{Name: name, Token: "sk-ant-" + name, Priority: priority},
		Usage: usage.Snapshot{
			FiveHour: usage.Window{Utilization: &s},
			SevenDay: usage.Window{Utilization: &w},
		},
	}
}

func errAccount(name, msg string) usage.Result {
	return usage.Result{
		Candidate: usage.Candidate{Name: name, Token: "sk-ant-" + name},
		Usage:     usage.Snapshot{Error: msg},
	}
}

func TestBest_LowestUtilization(t *testing.T) {
	results := []usage.Result{
		account("a", 95, 80, 0),
		account("b", 20, 15, 0),
		account("c", 50, 45, 0),
	}

	pick := Best(results, Options{})
	if pick == nil {
		t.Fatal("Best returned nil")
	}
	if pick.Account.Name != "b" {
		t.Errorf("picked %q, want b", pick.Account.Name)
	}
	if !strings.Contains(pick.Reason, "20%") || !strings.Contains(pick.Reason, "15%") {
		t.Errorf("reason missing percentages: %q", pick.Reason)
	}
}

func TestBest_EffectiveIsMax(t *testing.T) {
	// a has the lower session but its weekly dominates.
	results := []usage.Result{
		account("a", 10, 90, 0),
		account("b", 40, 40, 0),
	}

	pick := Best(results, Options{})
	if pick.Account.Name != "b" {
		t.Errorf("picked %q, want b (effective 40 < 90)", pick.Account.Name)
	}
}

func TestBest_FiltersExcludedErroredAndTokenless(t *testing.T) {
	noToken := account("c", 1, 1, 0)
	noToken.Token = ""

	results := []usage.Result{
		account("current", 5, 5, 0),
		errAccount("broken", "HTTP 500"),
		noToken,
		account("ok", 90, 90, 0),
	}

	pick := Best(results, Options{Exclude: "current"})
	if pick == nil {
		t.Fatal("Best returned nil")
	}
	if pick.Account.Name != "ok" {
		t.Errorf("picked %q, want ok", pick.Account.Name)
	}
}

func TestBest_NilWhenAllFiltered(t *testing.T) {
	results := []usage.Result{
		errAccount("x", "timeout"),
		account("y", 1, 1, 0),
	}

	if pick := Best(results, Options{Exclude: "y"}); pick != nil {
		t.Errorf("Best = %+v, want nil", pick)
	}
	if pick := Best(nil, Options{}); pick != nil {
		t.Errorf("Best(nil) = %+v, want nil", pick)
	}
}

func TestBest_StableTie(t *testing.T) {
	results := []usage.Result{
		account("first", 30, 30, 0),
		account("second", 30, 30, 0),
	}

	pick := Best(results, Options{})
	if pick.Account.Name != "first" {
		t.Errorf("tie broken against input order: picked %q", pick.Account.Name)
	}
}

func TestByPriority_Cascade(t *testing.T) {
	// main and backup1 are exhausted; backup2 wins despite the worst
	// priority because it is the only non-exhausted account.
	results := []usage.Result{
		account("main", 99, 10, 1),
		account("backup1", 99, 20, 2),
		account("backup2", 50, 30, 3),
	}

	pick := ByPriority(results, "")
	if pick == nil {
		t.Fatal("ByPriority returned nil")
	}
	if pick.Account.Name != "backup2" {
		t.Errorf("picked %q, want backup2", pick.Account.Name)
	}
	if !strings.Contains(pick.Reason, "priority 3") {
		t.Errorf("reason should mention priority 3: %q", pick.Reason)
	}
}

func TestByPriority_LowerWinsWithinPartition(t *testing.T) {
	results := []usage.Result{
		account("later", 10, 10, 5),
		account("preferred", 60, 60, 1),
	}

	pick := ByPriority(results, "")
	if pick.Account.Name != "preferred" {
		t.Errorf("picked %q, want preferred (priority beats utilization within partition)", pick.Account.Name)
	}
}

func TestByPriority_AbsentPrioritySortsLast(t *testing.T) {
	results := []usage.Result{
		account("unranked", 10, 10, 0),
		account("ranked", 60, 60, 7),
	}

	pick := ByPriority(results, "")
	if pick.Account.Name != "ranked" {
		t.Errorf("picked %q, want ranked (absent priority is +inf)", pick.Account.Name)
	}
	if !strings.Contains(pick.Reason, "priority 7") {
		t.Errorf("reason = %q", pick.Reason)
	}
}

func TestByPriority_TieFallsBackToUtilization(t *testing.T) {
	results := []usage.Result{
		account("busy", 80, 80, 2),
		account("idle", 10, 10, 2),
	}

	pick := ByPriority(results, "")
	if pick.Account.Name != "idle" {
		t.Errorf("picked %q, want idle", pick.Account.Name)
	}
}

func TestHasPriorities(t *testing.T) {
	unranked := []usage.Result{account("a", 10, 10, 0), account("b", 20, 20, 0)}
	if HasPriorities(unranked) {
		t.Error("HasPriorities = true for an unranked set")
	}
	ranked := append(unranked, account("c", 30, 30, 3))
	if !HasPriorities(ranked) {
		t.Error("HasPriorities = false with a ranked account present")
	}
}

func TestByPriority_AllExhaustedStillPicks(t *testing.T) {
	results := []usage.Result{
		account("a", 99, 99, 2),
		account("b", 100, 98, 1),
	}

	pick := ByPriority(results, "")
	if pick == nil {
		t.Fatal("ByPriority returned nil for exhausted-only set")
	}
	if pick.Account.Name != "b" {
		t.Errorf("picked %q, want b (lower priority within exhausted partition)", pick.Account.Name)
	}
}
