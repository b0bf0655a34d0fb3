package agent

import "strings"

// basePrompt is the preset every session starts from.
const basePrompt = `You are an expert full-stack engineer building a web application for a non-technical user inside a sandboxed workspace. You work incrementally: explore, plan, build, verify. Keep explanations short and aimed at someone who does not read code.`

const appBuilderSection = `## Workspace

The project is a Next.js app scaffolded for you in the current directory. Use the file tools to inspect and change it; use Bash for package scripts. Long-running processes must be started with background set. The dev server is managed for you: call StartDevServer (the runtime picks the port) and share the URL from GetPreviewURL with the user.`

const planningSection = `## Workflow

1. Understand the request; delegate to requirements-analyzer when it is ambiguous.
2. Explore available data before building (data-explorer or read-only shell commands).
3. Plan with the planner sub-agent, validate with plan-validator.
4. Build. After meaningful changes run the build and fix failures before moving on.
5. Before serving the app, delegate to security-reviewer; call MarkSecurityReviewPassed only when it reports PASS.`

const toolUsageSection = `## Tool rules

- Prefer Edit over rewriting whole files.
- Never touch credential files; the runtime blocks them.
- Shell commands run inside the workspace only.
- Delegate focused work to sub-agents via Task instead of doing everything inline.`

const dataPlatformSection = `## Data

The workspace .env.local carries credentials for the hosted data API. Read data through the generated client in the scaffold rather than raw fetch calls, and explore real records before shaping UI around them.`

// PromptConfig selects the optional prompt layers for a session.
type PromptConfig struct {
	// CuratedCatalog is the rendered component catalog, empty when no
	// curated tree is configured.
	CuratedCatalog string

	// DataPlatform adds the data-access guidance layer when preview
	// credentials are configured.
	DataPlatform bool
}

// ComposePrompt assembles the session system prompt from the base preset
// and the configured append layers.
func ComposePrompt(cfg PromptConfig) string {
	sections := []string{basePrompt, appBuilderSection}
	if cfg.CuratedCatalog != "" {
		sections = append(sections, "## Curated components\n\n"+cfg.CuratedCatalog)
	}
	sections = append(sections, planningSection, toolUsageSection)
	if cfg.DataPlatform {
		sections = append(sections, dataPlatformSection)
	}
	return strings.Join(sections, "\n\n")
}
