// Package subagents defines the fixed set of specialist agents the main
// agent can delegate to. Each profile pins a prompt, a restricted tool
// subset and a model tier; sub-agents run against the same workspace,
// policy gate and hooks as the main agent.
package subagents

import "fmt"

// Tier selects the model class for a profile.
type Tier string

const (
	// TierHaiku is the fast, cheap tier for narrow tasks.
	TierHaiku Tier = "haiku"

	// TierSonnet is the capable tier for tasks that edit code.
	TierSonnet Tier = "sonnet"
)

// ModelFor maps a tier to a concrete model id.
func ModelFor(tier Tier) string {
	switch tier {
	case TierSonnet:
		return "claude-sonnet-4-5"
	default:
		return "claude-haiku-4-5"
	}
}

// Profile describes one sub-agent.
type Profile struct {
	Name        string
	Description string
	Prompt      string
	Tools       []string
	Tier        Tier
}

// Registry returns the sub-agent profiles keyed by name. The map is built
// fresh per call so callers can't mutate shared state.
func Registry() map[string]Profile {
	profiles := []Profile{
		{
			Name:        "code-reviewer",
			Description: "Reviews code for bugs, type errors and broken imports",
			Tier:        TierHaiku,
			Tools:       []string{"Read", "Grep", "Glob"},
			Prompt: "You are a code reviewer. Examine the referenced files for bugs, type errors, " +
				"broken imports and inconsistent APIs. Report each finding with file, line and a " +
				"one-sentence explanation. Do not modify anything.",
		},
		{
			Name:        "error-fixer",
			Description: "Applies minimal fixes for diagnosed errors",
			Tier:        TierSonnet,
			Tools:       []string{"Read", "Edit"},
			Prompt: "You fix diagnosed errors. Apply the smallest change that resolves the reported " +
				"problem. Never refactor beyond the fix. State what you changed and why.",
		},
		{
			Name:        "security-reviewer",
			Description: "Audits the app for security problems before it is served",
			Tier:        TierSonnet,
			Tools:       []string{"Read", "Grep", "Glob"},
			Prompt: "You are a security reviewer for a generated web app. Check for injection risks, " +
				"secrets in source, unsafe use of user input, and calls to hosts outside the app's " +
				"own API. End your report with either PASS or a list of blocking findings.",
		},
		{
			Name:        "planner",
			Description: "Produces a build plan from requirements and explored data",
			Tier:        TierSonnet,
			Tools:       []string{"Read", "Glob", "Grep"},
			Prompt: "You are a planner. From the stated requirements and the explored data, produce a " +
				"short ordered build plan: pages, components, data bindings. Prefer curated components " +
				"when they fit. Keep the plan under ten steps.",
		},
		{
			Name:        "requirements-analyzer",
			Description: "Finds gaps and ambiguities in the user's request",
			Tier:        TierHaiku,
			Tools:       nil,
			Prompt: "You analyze app requirements. List the ambiguities and missing decisions in the " +
				"request as questions for the user. If nothing is ambiguous, say so.",
		},
		{
			Name:        "plan-validator",
			Description: "Checks a build plan against the actual workspace",
			Tier:        TierHaiku,
			Tools:       []string{"Read"},
			Prompt: "You validate build plans. Check each step against the current workspace for " +
				"feasibility and ordering problems. Reply VALID or list the broken steps.",
		},
		{
			Name:        "data-explorer",
			Description: "Explores available data sources and reports their shape",
			Tier:        TierHaiku,
			Tools:       []string{"Bash"},
			Prompt: "You explore data sources with read-only shell commands (curl, jq, head, ls). " +
				"Report the endpoints, record shapes and row counts you find. Never modify anything.",
		},
		{
			Name:        "component-generator",
			Description: "Generates a UI component in the project's style",
			Tier:        TierSonnet,
			Tools:       []string{"Write", "Read"},
			Prompt: "You generate React components matching the project's conventions. Read neighboring " +
				"components for style, then write the new component with typed props and no placeholder " +
				"logic.",
		},
	}

	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		m[p.Name] = p
	}
	return m
}

// Names returns the registered profile names.
func Names() []string {
	reg := Registry()
	names := make([]string, 0, len(reg))
	for n := range reg {
		names = append(names, n)
	}
	return names
}

// Validate checks that every referenced name exists. Run at startup so a
// hook pointing at a misspelled sub-agent fails fast.
func Validate(referenced ...string) error {
	reg := Registry()
	for _, name := range referenced {
		if _, ok := reg[name]; !ok {
			return fmt.Errorf("unknown sub-agent %q", name)
		}
	}
	return nil
}
