package agent

import "github.com/scoutline/scoutline/pkg/tools"

const defaultMaxTokens = 2000

// NewEnricher expands a brief idea into a detailed research description.
func NewEnricher() Agent {
	return Agent{
		Name: "Enricher",
		Instructions: `You are an idea enrichment expert.
Your goal is to take a brief research idea or event string and expand it into a detailed, comprehensive description.
Identify key aspects that need to be researched, potential angles, and context.
Output ONLY the enriched description text.`,
		MaxTokens: defaultMaxTokens,
	}
}

// NewPlanner breaks a description into research tasks.
func NewPlanner() Agent {
	return Agent{
		Name: "Planner",
		Instructions: `You are a research planner.
Given a detailed research description, break it down into specific, actionable research tasks.
Return the tasks as a JSON list of strings, e.g., ["Task 1", "Task 2"].
Do not include any other text, just the JSON array.`,
		MaxTokens: defaultMaxTokens,
	}
}

// NewHypothesizer proposes testable hypotheses for a task before any
// research happens.
func NewHypothesizer() Agent {
	return Agent{
		Name: "Hypothesizer",
		Instructions: `You are a research strategist.
Given a research task, propose the most plausible hypotheses the research should confirm or refute.
Output strictly valid JSON: {"hypotheses": ["...", "..."]} with 2 to 4 entries.
Do not output any markdown or other text.`,
		MaxTokens: defaultMaxTokens,
	}
}

// NewResearcher performs a research task with web and internal search.
func NewResearcher(toolset *tools.Set) Agent {
	return Agent{
		Name: "Researcher",
		Instructions: `You are a thorough research assistant.
Your goal is to complete the assigned research task using available tools.

Process:
1. Search for information using the web or the internal research database.
2. Analyze the findings.
3. Critique: Do you have enough info? Is it accurate?
4. If needed, search again with refined queries.
5. When satisfied, provide a comprehensive answer to the task.

Use the tools as many times as needed within the turn limit.`,
		Tools:     toolset,
		MaxTokens: defaultMaxTokens,
	}
}

// NewEvidenceScorer rates how well a result is supported by evidence.
func NewEvidenceScorer() Agent {
	return Agent{
		Name: "EvidenceScorer",
		Instructions: `You are an evidence assessor.
Given a research task and its result, rate how well the result is supported by concrete evidence.
Output strictly valid JSON:
{"score": <integer 1-5, 5 strongest>, "justification": "string", "weak_points": ["string", ...]}
Do not output any markdown or other text.`,
		MaxTokens: defaultMaxTokens,
	}
}

// NewContradictionFinder searches for claims contradicting a result.
func NewContradictionFinder(toolset *tools.Set) Agent {
	return Agent{
		Name: "ContradictionFinder",
		Instructions: `You are a skeptical fact checker.
Given a research task and its result, search the web for credible sources that contradict the key claims.
Output strictly valid JSON:
{"found": boolean, "contradictions": ["string", ...], "notes": "string"}
Do not output any markdown or other text.`,
		Tools:     toolset,
		MaxTokens: defaultMaxTokens,
	}
}

// NewCritic decides whether a task's research passes review.
func NewCritic() Agent {
	return Agent{
		Name: "Critic",
		Instructions: `You are a research quality assurance expert.
Your job is to evaluate a Research Task and its Result.

Determine if the result comprehensively answers the task description.
Check for:
- Completeness
- Relevance
- Depth
Take any reported contradictions into account.

Output strictly valid JSON with the following structure:
{
  "approved": boolean,
  "feedback": "string explaining what is missing or why it is approved"
}
Do not output any markdown or other text.`,
		MaxTokens: defaultMaxTokens,
	}
}

// NewReporter aggregates approved findings into the final report.
func NewReporter() Agent {
	return Agent{
		Name: "Reporter",
		Instructions: `You are a research reporter.
You will receive a set of research findings for various tasks.
Your job is to aggregate these findings into a cohesive, well-structured research report.
The report should be in JSON format with fields: "summary", "key_findings", "details".
Ensure the JSON is valid.`,
		MaxTokens: 4000,
	}
}

// NewFinalCritic reviews the assembled report as a whole.
func NewFinalCritic() Agent {
	return Agent{
		Name: "FinalCritic",
		Instructions: `You are an editor reviewing a finished research report.
Assess the report for coherence, internal consistency, and unsupported claims.
Output strictly valid JSON:
{"approved": boolean, "critique": "string", "required_edits": ["string", ...]}
Do not output any markdown or other text.`,
		MaxTokens: defaultMaxTokens,
	}
}
