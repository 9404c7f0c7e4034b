package swap

import "strings"

// continuePrompt is appended after a rate-limit swap so the resumed
// child picks the work back up without waiting for the user.
const continuePrompt = "Continue."

// boolFlags are child flags that never take a value; an argument after
// one of them is positional.
var boolFlags = map[string]bool{
	"--dangerously-skip-permissions": true,
	"--verbose":                      true,
	"--continue":                     true,
	"-c":                             true,
	"--print":                        true,
	"-p":                             true,
}

// ResumeID returns the session id named by an existing --resume/-r
// argument, or "" when the args carry none.
func ResumeID(args []string) string {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--resume" || args[i] == "-r":
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		case strings.HasPrefix(args[i], "--resume="):
			return strings.TrimPrefix(args[i], "--resume=")
		}
	}
	return ""
}

// BuildResumeArgs rewrites child arguments for the next run: any
// existing --resume/-r is stripped, sessionID (when non-empty) is
// prepended as --resume <id>, and on the rate-limit path positionals
// are replaced by a one-word continuation prompt so the child proceeds
// without re-prompting the user. The rewrite is stable under repeated
// application across swaps.
func BuildResumeArgs(args []string, sessionID string, rateLimit bool) []string {
	kept := stripResume(args)
	if rateLimit {
		kept = stripPositionals(kept)
	}

	out := make([]string, 0, len(kept)+3)
	if sessionID != "" {
		out = append(out, "--resume", sessionID)
	}
	out = append(out, kept...)
	if rateLimit {
		out = append(out, continuePrompt)
	}
	return out
}

// stripResume removes every --resume/-r occurrence and the value it
// carries.
func stripResume(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--resume" || args[i] == "-r":
			i++
		case strings.HasPrefix(args[i], "--resume="):
		default:
			out = append(out, args[i])
		}
	}
	return out
}

// stripPositionals keeps flags and their values only. A flag without an
// inline =value consumes the next argument unless that argument is
// itself a flag or the flag is a known boolean.
func stripPositionals(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			continue
		}
		out = append(out, a)
		if strings.Contains(a, "=") || boolFlags[a] {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}
