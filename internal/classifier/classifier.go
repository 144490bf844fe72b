// Package classifier implements the four-layer command risk classification
// described for the terminal adapter: blocklist, paranoid mode, policy
// manifest, then default pattern groups.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel is the risk classification assigned to a command.
type RiskLevel string

// Risk levels in ascending order: READ < WRITE < HIGH_RISK.
const (
	RiskRead     RiskLevel = "READ"
	RiskWrite    RiskLevel = "WRITE"
	RiskHighRisk RiskLevel = "HIGH_RISK"
)

// rank gives RiskLevel a total order for policy comparisons.
func (r RiskLevel) rank() int {
	switch r {
	case RiskRead:
		return 0
	case RiskWrite:
		return 1
	default:
		return 2
	}
}

// Less reports whether r is strictly less risky than other.
func (r RiskLevel) Less(other RiskLevel) bool {
	return r.rank() < other.rank()
}

// PolicyManifest is the supervisor-authored policy document overriding
// default classification for specific command names. The caller checks
// the manifest's signature; an unverified manifest must not be passed to
// NewClassifier's manifest slot.
type PolicyManifest struct {
	Version         string   `json:"version"`
	SafeCommands    []string `json:"safe_commands"`
	WriteCommands   []string `json:"write_commands"`
	BlockedPatterns []string `json:"blocked_patterns"`
	Signature       string   `json:"signature"`
}

// ClassificationResult is the outcome of classifying one (command, args) pair.
type ClassificationResult struct {
	Command        string
	Args           []string
	Risk           RiskLevel
	Blocked        bool
	BlockReason    string
	MatchedPattern string
}

// defaultRiskPatterns holds the three ordered pattern groups evaluated in
// sequence when no manifest entry matches. Reproduced literally, including
// the intentionally broad `.*>.*` redirection pattern (see Open Question
// on pattern ambiguity): tightening it is a policy decision, not a bug.
var defaultRiskPatterns = []struct {
	risk     RiskLevel
	patterns []string
}{
	{RiskRead, []string{
		`^ls\b`, `^cat\b`, `^head\b`, `^tail\b`, `^grep\b`,
		`^find\b.*-type`, `^pwd$`, `^which\b`, `^echo\b`,
		`^git status\b`, `^git log\b`, `^git diff\b`,
		`^wc\b`, `^file\b`, `^tree\b`, `^less\b`, `^more\b`,
	}},
	{RiskWrite, []string{
		`^mkdir\b`, `^touch\b`, `^cp\b`, `^mv\b`,
		`^git add\b`, `^git commit\b`, `^npm install\b`,
		`^pip install\b`, `^cargo build\b`, `^make\b`,
		`^npm run\b`, `^yarn\b`, `^pnpm\b`,
	}},
	{RiskHighRisk, []string{
		`^rm\b`, `^rmdir\b`, `^git push\b`, `^git reset --hard\b`,
		`^curl\b`, `^wget\b`, `^ssh\b`, `^scp\b`,
		`^chmod\b`, `^chown\b`, `^sudo\b`,
		`.*\|.*rm\b`,
		`.*>.*`,
	}},
}

// blocklistPatterns are always denied, regardless of manifest or paranoid
// mode. Evaluated before anything else.
var blocklistPatterns = []string{
	`^rm\s+-rf\s+/`,
	`^:()\{\s*:\s*\|\s*:\s*&\s*\}\s*;:`,
	`^dd\s+if=.*of=/`,
	`.*eval\s+\$`,
	`^pkill\b`,
	`^killall\b`,
	`.*&&\s*rm\b`,
}

type compiledGroup struct {
	risk     RiskLevel
	patterns []*regexp.Regexp
}

// Classifier is a pure, stateless classification engine built from a
// compiled pattern set, an optional verified manifest, and a paranoid-mode
// flag. It holds no I/O handles and performs no suspension points.
type Classifier struct {
	manifest     *PolicyManifest
	paranoid     bool
	blocklist    []*regexp.Regexp
	defaultGroup []compiledGroup
	safeSet      map[string]struct{}
	writeSet     map[string]struct{}
}

// NewClassifier compiles the blocklist and default pattern groups and
// optionally wires in a verified manifest and paranoid mode. Regex
// compilation errors are fatal at construction, per the classifier's
// failure semantics: it has no runtime failure modes.
func NewClassifier(manifest *PolicyManifest, paranoid bool) (*Classifier, error) {
	c := &Classifier{manifest: manifest, paranoid: paranoid}

	for _, p := range blocklistPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("classifier: compile blocklist pattern %q: %w", p, err)
		}
		c.blocklist = append(c.blocklist, re)
	}

	for _, group := range defaultRiskPatterns {
		var compiled []*regexp.Regexp
		for _, p := range group.patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("classifier: compile %s pattern %q: %w", group.risk, p, err)
			}
			compiled = append(compiled, re)
		}
		c.defaultGroup = append(c.defaultGroup, compiledGroup{risk: group.risk, patterns: compiled})
	}

	if manifest != nil {
		c.safeSet = toSet(manifest.SafeCommands)
		c.writeSet = toSet(manifest.WriteCommands)
	}

	return c, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// Classify evaluates the four-layer precedence — blocklist, paranoid mode,
// manifest, default pattern groups — and falls back to HIGH_RISK for
// commands matching nothing. First match wins at every layer.
func (c *Classifier) Classify(command string, args []string) ClassificationResult {
	fullCommand := strings.TrimSpace(command + " " + strings.Join(args, " "))

	for _, re := range c.blocklist {
		if re.MatchString(fullCommand) {
			return ClassificationResult{
				Command:        command,
				Args:           args,
				Risk:           RiskHighRisk,
				Blocked:        true,
				BlockReason:    "blocklist",
				MatchedPattern: re.String(),
			}
		}
	}

	if c.paranoid {
		return ClassificationResult{
			Command:     command,
			Args:        args,
			Risk:        RiskHighRisk,
			Blocked:     false,
			BlockReason: "paranoid",
		}
	}

	if c.manifest != nil {
		if _, ok := c.safeSet[command]; ok {
			return ClassificationResult{Command: command, Args: args, Risk: RiskRead}
		}
		if _, ok := c.writeSet[command]; ok {
			return ClassificationResult{Command: command, Args: args, Risk: RiskWrite}
		}
	}

	for _, group := range c.defaultGroup {
		for _, re := range group.patterns {
			if re.MatchString(fullCommand) {
				return ClassificationResult{
					Command:        command,
					Args:           args,
					Risk:           group.risk,
					MatchedPattern: re.String(),
				}
			}
		}
	}

	return ClassificationResult{
		Command:     command,
		Args:        args,
		Risk:        RiskHighRisk,
		BlockReason: "unknown command",
	}
}
