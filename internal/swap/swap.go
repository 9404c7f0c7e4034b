// Package swap drives the account rotation loop: run the child, watch
// for the rate-limit banner, pick the next account by usage, migrate
// the session transcript into its profile, and resume.
package swap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ccswap/ccswap/internal/child"
	"github.com/ccswap/ccswap/internal/credentials"
	"github.com/ccswap/ccswap/internal/registry"
	"github.com/ccswap/ccswap/internal/selector"
	"github.com/ccswap/ccswap/internal/session"
	"github.com/ccswap/ccswap/internal/style"
	"github.com/ccswap/ccswap/internal/usage"
)

const (
	// sleepThreshold marks the best alternative as no better off than
	// the account that just hit its limit, making a swap pointless.
	sleepThreshold = 99

	// maxSleep caps a single sleep-until-reset wait.
	maxSleep = 6 * time.Hour

	// minSwapBudget keeps room for recoveries even with few accounts.
	minSwapBudget = 5

	wakeFormat = "15:04:05 MST"
)

// ExitInterrupted is the exit code for a signal-interrupted sleep.
const ExitInterrupted = 130

var (
	ErrMaxSwapsReached       = errors.New("max_swaps_reached")
	ErrNoAlternativeAccounts = errors.New("no_alternative_accounts")
)

// DefaultMaxSwaps is max(5, 2 × accounts): every account gets at least
// one chance even after mid-session recoveries.
func DefaultMaxSwaps(accounts int) int {
	if n := 2 * accounts; n > minSwapBudget {
		return n
	}
	return minSwapBudget
}

// Options configure one Run.
type Options struct {
	// MaxSwaps bounds counted rate-limit swaps; zero applies
	// DefaultMaxSwaps.
	MaxSwaps int

	// Remote marks the run as relay-driven: swap notices go to the chat
	// channel and interactive re-auth is skipped.
	Remote bool
}

// Notifier carries swap notices to the chat relay in remote mode. A nil
// Notifier drops them.
type Notifier interface {
	// BeginRun retires channel mappings left over from earlier runs in
	// the same tmux session, keeping keepSessionID's.
	BeginRun(keepSessionID string) error

	AccountSwitch(sessionID, account string) error
	SleepUntilReset(sessionID string, wake time.Time) error
	SleepWake(sessionID string) error
}

// ReauthFunc runs the interactive login flow for one account whose
// token the API rejected.
type ReauthFunc func(ctx context.Context, acct registry.Account) error

// Loop supervises the child across accounts for one invocation. State
// is confined to the invocation; nothing here is safe for concurrent
// use.
type Loop struct {
	opts     Options
	notifier Notifier
	reauth   ReauthFunc

	runChild   func(ctx context.Context, args []string, opts child.Options) (*child.Result, error)
	checkAll   func(ctx context.Context, cands []usage.Candidate) []usage.Result
	tokenFor   func(ctx context.Context, profileDir string) (string, error)
	findLatest func(profileDir, cwd string) (*session.Ref, bool)
	findByID   func(accounts []registry.Account, sessionID string) (*session.Ref, bool, error)
	migrate    func(fromProfile, toProfile, cwdHash, sessionID string) error
	sleep      func(ctx context.Context, d time.Duration) bool
	getwd      func() (string, error)
	now        func() time.Time

	swapLog []string
}

// New wires a Loop to the production collaborators. notifier may be nil
// outside remote mode; a nil reauth disables the re-auth pass.
func New(opts Options, notifier Notifier, reauth ReauthFunc) *Loop {
	store := credentials.NewStore()
	client := usage.NewClient()
	return &Loop{
		opts:       opts,
		notifier:   notifier,
		reauth:     reauth,
		runChild:   child.Run,
		checkAll:   client.CheckAll,
		tokenFor:   store.TokenFor,
		findLatest: session.FindLatestInProfile,
		findByID:   session.FindByID,
		migrate:    session.Migrate,
		sleep:      interruptibleSleep,
		getwd:      os.Getwd,
		now:        time.Now,
	}
}

// SwapLog returns the account transitions performed so far, oldest
// first, formatted "from→to". Same-account resumes after a sleep are
// not transitions and do not appear.
func (l *Loop) SwapLog() []string {
	return l.swapLog
}

// Run supervises the child under current until a terminal exit and
// returns the process exit code: the child's own code on plain exits, 1
// for unrecoverable states, 130 for a signal-interrupted sleep. The
// error explains non-zero exits that were not the child's own.
func (l *Loop) Run(ctx context.Context, current registry.Account, accounts []registry.Account, childArgs []string) (int, error) {
	budget := l.opts.MaxSwaps
	if budget <= 0 {
		budget = DefaultMaxSwaps(len(accounts))
	}

	sessionID := ResumeID(childArgs)

	if l.opts.Remote && l.notifier != nil {
		if err := l.notifier.BeginRun(sessionID); err != nil {
			style.PrintWarning("channel cleanup failed: %v", err)
		}
	}

	cwd, err := l.getwd()
	if err != nil {
		return 1, fmt.Errorf("resolving working directory: %w", err)
	}

	args := childArgs
	swaps := 0
	for {
		res, err := l.runChild(ctx, args, child.Options{ProfileDir: current.ProfileDir, Remote: l.opts.Remote})
		if err != nil {
			return 1, err
		}
		if res.SessionID != "" {
			sessionID = res.SessionID
		}
		if !res.RateLimited {
			return res.ExitCode, nil
		}

		if res.ResetHint != "" {
			style.Notify("%s hit its rate limit (resets %s)", current.Name, res.ResetHint)
		} else {
			style.Notify("%s hit its rate limit", current.Name)
		}

		swaps++
		if swaps > budget {
			return 1, fmt.Errorf("%w: budget of %d used up", ErrMaxSwapsReached, budget)
		}

		ref := l.sessionToMigrate(accounts, current, cwd, sessionID)

		results := l.checkAll(ctx, l.resolve(ctx, accounts))
		pick := l.pickNext(results, current.Name)

		if pick != nil && pick.Account.Usage.Effective() >= sleepThreshold {
			var interrupted bool
			pick, results, interrupted = l.sleepUntilReset(ctx, sessionID, accounts, results, pick)
			if interrupted {
				return ExitInterrupted, nil
			}
		}

		if pick == nil && !l.opts.Remote && l.reauth != nil {
			if l.reauthRejected(ctx, accounts, results) {
				results = l.checkAll(ctx, l.resolve(ctx, accounts))
				pick = l.pickNext(results, current.Name)
			}
		}

		if pick == nil {
			return 1, ErrNoAlternativeAccounts
		}

		next := accountNamed(accounts, pick.Account.Name)
		if next == nil {
			return 1, ErrNoAlternativeAccounts
		}

		if next.Name == current.Name {
			style.Notify("resuming on %s (%s)", current.Name, pick.Reason)
		} else {
			l.swapLog = append(l.swapLog, current.Name+"→"+next.Name)
			style.Notify("switching %s → %s (%s)", current.Name, next.Name, pick.Reason)
			if l.opts.Remote && l.notifier != nil {
				if err := l.notifier.AccountSwitch(sessionID, next.Name); err != nil {
					style.PrintWarning("switch notice failed: %v", err)
				}
			}
		}

		resumeID := ""
		if ref != nil {
			if err := l.migrate(ref.ProfileDir, next.ProfileDir, ref.CwdHash, ref.SessionID); err != nil {
				style.PrintWarning("migration failed: %v; starting fresh", err)
			} else {
				resumeID = ref.SessionID
				sessionID = ref.SessionID
				style.Notify("migrated session %s into %s", ref.SessionID, next.Name)
			}
		}

		args = BuildResumeArgs(args, resumeID, true)
		current = *next
	}
}

// sessionToMigrate locates the transcript the next account should
// resume: the explicitly known id when its file can be found, else the
// newest transcript for cwd in the current profile. A missing session
// is non-fatal; the next child starts fresh.
func (l *Loop) sessionToMigrate(accounts []registry.Account, current registry.Account, cwd, explicitID string) *session.Ref {
	if explicitID != "" {
		if ref, ok, err := l.findByID(accounts, explicitID); err == nil && ok {
			return ref
		}
	}
	ref, ok := l.findLatest(current.ProfileDir, cwd)
	if !ok {
		return nil
	}
	return ref
}

// sleepUntilReset handles the everyone-exhausted path: wait for the
// earliest window reset across ALL accounts (the current one included,
// since its window may roll first), then re-query and re-pick with the
// current account back in play. The bool reports a signal-interrupted
// sleep; pick and results come back unchanged when no reset time is
// known.
func (l *Loop) sleepUntilReset(ctx context.Context, sessionID string, accounts []registry.Account, results []usage.Result, pick *selector.Pick) (*selector.Pick, []usage.Result, bool) {
	wake, ok := earliestReset(results)
	if !ok {
		return pick, results, false
	}
	wait := wake.Sub(l.now())
	if wait <= 0 {
		return pick, results, false
	}
	if wait > maxSleep {
		wait = maxSleep
		wake = l.now().Add(wait)
	}

	style.Notify("every account is rate limited; sleeping until %s", wake.Format(wakeFormat))
	if l.opts.Remote && l.notifier != nil {
		if err := l.notifier.SleepUntilReset(sessionID, wake); err != nil {
			style.PrintWarning("sleep notice failed: %v", err)
		}
	}

	if !l.sleep(ctx, wait) {
		style.Notify("sleep interrupted")
		return pick, results, true
	}

	style.Notify("rate limit window reset; re-checking accounts")
	if l.opts.Remote && l.notifier != nil {
		if err := l.notifier.SleepWake(sessionID); err != nil {
			style.PrintWarning("wake notice failed: %v", err)
		}
	}

	results = l.checkAll(ctx, l.resolve(ctx, accounts))
	return l.pickNext(results, ""), results, false
}

// pickNext chooses the account for the next leg. Any configured
// priority switches the whole run to the priority policy.
func (l *Loop) pickNext(results []usage.Result, exclude string) *selector.Pick {
	return selector.Best(results, selector.Options{
		Exclude:     exclude,
		UsePriority: selector.HasPriorities(results),
	})
}

// reauthRejected runs the login flow for every account whose usage
// query came back unauthorized. Reports whether any re-auth succeeded.
func (l *Loop) reauthRejected(ctx context.Context, accounts []registry.Account, results []usage.Result) bool {
	any := false
	for _, r := range results {
		if !r.Usage.AuthRejected() {
			continue
		}
		acct := accountNamed(accounts, r.Name)
		if acct == nil {
			continue
		}
		style.PrintWarning("the API rejected %s's token; launching login", acct.Name)
		if err := l.reauth(ctx, *acct); err != nil {
			style.PrintError("re-auth for %s failed: %v", acct.Name, err)
			continue
		}
		any = true
	}
	return any
}

func (l *Loop) resolve(ctx context.Context, accounts []registry.Account) []usage.Candidate {
	return resolveCandidates(ctx, l.tokenFor, accounts)
}

// Candidates resolves each registry account into a usage query
// candidate, refreshing expired tokens through store. Accounts whose
// credentials cannot be read carry an empty token, which the usage
// client reports as no_credentials.
func Candidates(ctx context.Context, store *credentials.Store, accounts []registry.Account) []usage.Candidate {
	return resolveCandidates(ctx, store.TokenFor, accounts)
}

func resolveCandidates(ctx context.Context, tokenFor func(context.Context, string) (string, error), accounts []registry.Account) []usage.Candidate {
	cands := make([]usage.Candidate, 0, len(accounts))
	for _, a := range accounts {
		token, err := tokenFor(ctx, a.ProfileDir)
		if err != nil {
			token = ""
		}
		cands = append(cands, usage.Candidate{
			Name:       a.Name,
			ProfileDir: a.ProfileDir,
			Token:      token,
			Priority:   a.Priority,
		})
	}
	return cands
}

// earliestReset scans every snapshot, error-carrying ones included, for
// the soonest window reset.
func earliestReset(results []usage.Result) (time.Time, bool) {
	var best time.Time
	found := false
	for _, r := range results {
		t, ok := r.Usage.EarliestReset()
		if !ok {
			continue
		}
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}
	return best, found
}

func accountNamed(accounts []registry.Account, name string) *registry.Account {
	for i := range accounts {
		if accounts[i].Name == name {
			return &accounts[i]
		}
	}
	return nil
}

// interruptibleSleep waits d, returning false when a termination signal
// or context cancellation cut the wait short.
func interruptibleSleep(ctx context.Context, d time.Duration) bool {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, unix.SIGTERM)
	defer signal.Stop(sigs)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-sigs:
		return false
	case <-ctx.Done():
		return false
	}
}
