// Package selector scores usage-annotated accounts and picks the next
// one to run the child under.
package selector

import (
	"fmt"
	"math"
	"sort"

	"github.com/ccswap/ccswap/internal/usage"
)

// exhaustedThreshold splits accounts into usable and exhausted under the
// priority policy. 98 rather than 100 because the usage endpoint lags
// behind actual consumption.
const exhaustedThreshold = 98

// Options controls filtering and policy for Best.
type Options struct {
	// Exclude drops the named account from consideration, typically the
	// one that just hit its limit.
	Exclude string

	// UsePriority switches from lowest-utilization to the priority
	// policy.
	UsePriority bool
}

// Pick is the chosen account plus an audit string explaining the choice.
type Pick struct {
	Account usage.Result
	Reason  string
}

// Best returns the preferred account, or nil when no candidate survives
// the filter. Accounts without a token or with an error-carrying
// snapshot never win; neither does the excluded name.
func Best(results []usage.Result, opts Options) *Pick {
	candidates := make([]usage.Result, 0, len(results))
	for _, r := range results {
		if opts.Exclude != "" && r.Name == opts.Exclude {
			continue
		}
		if r.Token == "" || r.Usage.Error != "" {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}

	if opts.UsePriority {
		sort.SliceStable(candidates, func(i, j int) bool {
			ci, cj := candidates[i], candidates[j]
			exhaustedI := ci.Usage.Effective() >= exhaustedThreshold
			exhaustedJ := cj.Usage.Effective() >= exhaustedThreshold
			if exhaustedI != exhaustedJ {
				return !exhaustedI
			}
			pi, pj := rank(ci), rank(cj)
			if pi != pj {
				return pi < pj
			}
			return ci.Usage.Effective() < cj.Usage.Effective()
		})
		best := candidates[0]
		return &Pick{
			Account: best,
			Reason: fmt.Sprintf("priority %s, session %d%%, weekly %d%%",
				priorityLabel(best), best.Usage.FiveHour.Percent(), best.Usage.SevenDay.Percent()),
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Usage.Effective() < candidates[j].Usage.Effective()
	})
	best := candidates[0]
	return &Pick{
		Account: best,
		Reason: fmt.Sprintf("session %d%%, weekly %d%%",
			best.Usage.FiveHour.Percent(), best.Usage.SevenDay.Percent()),
	}
}

// ByPriority is the priority-policy wrapper over Best.
func ByPriority(results []usage.Result, exclude string) *Pick {
	return Best(results, Options{Exclude: exclude, UsePriority: true})
}

// HasPriorities reports whether any account carries an explicit
// priority. Priorities switch every pick in the run to the priority
// policy.
func HasPriorities(results []usage.Result) bool {
	for _, r := range results {
		if r.Priority > 0 {
			return true
		}
	}
	return false
}

// rank maps an account's priority for ordering; absent sorts last.
func rank(r usage.Result) int {
	if r.Priority <= 0 {
		return math.MaxInt
	}
	return r.Priority
}

func priorityLabel(r usage.Result) string {
	if r.Priority <= 0 {
		return "none"
	}
	return fmt.Sprintf("%d", r.Priority)
}
