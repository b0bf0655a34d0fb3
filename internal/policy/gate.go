// Package policy implements the synchronous permission gate consulted before
// every tool execution. Rules are evaluated in a fixed order; the first match
// wins. A denial never reaches the sandbox: the caller converts it into an
// error result for the model.
package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/sandbox"
	"github.com/haasonsaas/forge/internal/state"
)

// Rule names label denials in results, logs and metrics.
const (
	RuleDangerousCommand = "dangerous_command"
	RulePathEscape       = "path_escape"
	RuleSensitivePath    = "sensitive_path"
	RuleReviewRequired   = "review_required"
	RulePortBounds       = "port_bounds"
)

// Decision is the gate's verdict on one tool call.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(rule, reason string) Decision {
	return Decision{Allowed: false, Rule: rule, Reason: reason}
}

// dangerousFragments are shell substrings that are never allowed, regardless
// of the surrounding command.
var dangerousFragments = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"sudo ",
	"> /dev/",
	"mkfs",
	"dd if=",
	":(){:|:&};:",
	"chmod -R 777 /",
}

// pipeToShell catches remote-script execution like "curl ... | bash".
var pipeToShell = regexp.MustCompile(`(?i)(curl|wget)[^|;&]*\|\s*(ba|z|da)?sh\b`)

// sensitiveFragments block file access to credential material by substring
// match on the requested path.
var sensitiveFragments = []string{
	".env",
	"credentials",
	"secrets",
	".git/config",
	"id_rsa",
	".ssh/",
	"password",
	".npmrc",
}

// fileTools and their path-bearing input fields.
var filePathFields = map[string][]string{
	"Read":  {"file_path"},
	"Write": {"file_path"},
	"Edit":  {"file_path"},
	"Glob":  {"path"},
	"Grep":  {"path"},
}

// Gate evaluates one session's policy. It holds the session's resolver and
// review machine; sessions never share a gate.
type Gate struct {
	supervisor *sandbox.Supervisor
	review     *state.Review
	metrics    *observability.Metrics
}

// NewGate builds the gate for one session.
func NewGate(sup *sandbox.Supervisor, review *state.Review, metrics *observability.Metrics) *Gate {
	return &Gate{supervisor: sup, review: review, metrics: metrics}
}

// Decide evaluates the rules in order against one tool call.
func (g *Gate) Decide(tool string, input json.RawMessage) Decision {
	var fields map[string]any
	if len(input) > 0 {
		// Unparseable input is handled by schema validation downstream;
		// the gate only inspects what it can read.
		_ = json.Unmarshal(input, &fields)
	}

	d := g.decide(tool, fields)
	if !d.Allowed && g.metrics != nil {
		g.metrics.RecordDenial(d.Rule)
	}
	return d
}

func (g *Gate) decide(tool string, fields map[string]any) Decision {
	if tool == "Bash" {
		if d := checkCommand(stringField(fields, "command")); !d.Allowed {
			return d
		}
	}

	if fieldNames, ok := filePathFields[tool]; ok {
		for _, name := range fieldNames {
			p := stringField(fields, name)
			if p == "" {
				continue
			}
			if g.supervisor != nil {
				if _, err := g.supervisor.Resolve(p); err != nil {
					return deny(RulePathEscape, fmt.Sprintf("path %q is outside the workspace", p))
				}
			}
			if frag := sensitiveMatch(p); frag != "" {
				return deny(RuleSensitivePath, fmt.Sprintf("access to %q is blocked (%s)", p, frag))
			}
		}
	}

	if tool == "StartDevServer" && g.review != nil && !g.review.Passed() {
		return deny(RuleReviewRequired,
			fmt.Sprintf("security review is %s; run the security-reviewer and mark it passed before starting the dev server", g.review.Status()))
	}

	if port, ok := numberField(fields, "port"); ok {
		if port < 1 || port > 65535 {
			return deny(RulePortBounds, fmt.Sprintf("port %d out of range", port))
		}
	}

	return allow()
}

// checkCommand applies the shell denylist to one command string.
func checkCommand(command string) Decision {
	normalized := strings.Join(strings.Fields(command), " ")
	for _, frag := range dangerousFragments {
		if strings.Contains(normalized, frag) || strings.Contains(command, frag) {
			return deny(RuleDangerousCommand, fmt.Sprintf("command contains %q", frag))
		}
	}
	if pipeToShell.MatchString(command) {
		return deny(RuleDangerousCommand, "piping downloaded scripts into a shell is not allowed")
	}
	return allow()
}

func sensitiveMatch(path string) string {
	lower := strings.ToLower(path)
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return frag
		}
	}
	return ""
}

func stringField(fields map[string]any, name string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[name].(string)
	return s
}

func numberField(fields map[string]any, name string) (int, bool) {
	if fields == nil {
		return 0, false
	}
	switch v := fields[name].(type) {
	case float64:
		return int(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}
