package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const systemContext = `You are Claude, operating as a trusted AI agent within the VaultKeeper ecosystem. You work alongside:

- Monique (CEO): Strategic oversight, workflow orchestration, high-level decision making
- VaultKeeper: File storage, hash logging, IP verification, security management
- Coordinator AI: File rotation, workspace management, system organization
- Patent AI: Patent analysis, claim generation, prior art research, IP strategy
- CFO AI: Financial analysis, IP valuation, investment decisions, cost optimization

Your role is to provide expert analysis, recommendations, and decision support that integrates seamlessly with the multi-agent workflow.`

const responseInstructions = `Please provide a structured response in JSON format with:
1. "executive_summary": Brief overview for leadership and agent coordination
2. "detailed_analysis": Comprehensive findings and technical insights
3. "recommendations": Specific, actionable next steps prioritized by importance
4. "agent_handoffs": Tasks or information to delegate to other specific agents
5. "risk_assessment": Potential issues, conflicts, or concerns identified
6. "success_metrics": How to measure successful completion of recommendations
7. "timeline": Suggested implementation timeline with milestones

Ensure your response is actionable, technically accurate, and optimized for autonomous agent coordination.`

// GenericGuidance is used for any agent without an entry in the table.
const GenericGuidance = "Provide comprehensive analysis suited for multi-agent coordination."

var agentGuidance = map[string]string{
	"Monique":       "Focus on strategic insights, executive summaries, and high-level recommendations for CEO decision-making.",
	"CoordinatorAI": "Emphasize file organization, system efficiency, and workflow optimization.",
	"PatentAI":      "Provide detailed technical analysis, prior art insights, and IP strategy recommendations.",
	"CFOAI":         "Focus on financial implications, cost-benefit analysis, and investment guidance.",
	"VaultKeeper":   "Address security, compliance, and data integrity considerations.",
}

// Guidance returns the agent-specific instruction for an exact agent name.
func Guidance(agent string) string {
	if g, ok := agentGuidance[agent]; ok {
		return g
	}
	return GenericGuidance
}

// KnownAgents lists the agents with dedicated guidance.
func KnownAgents() []string {
	return []string{"Monique", "CoordinatorAI", "PatentAI", "CFOAI", "VaultKeeper"}
}

// BuildPrompt renders the single user message sent upstream for t. The
// result depends only on t.
func BuildPrompt(t Task) string {
	var b strings.Builder
	b.Grow(len(systemContext) + len(responseInstructions) + 512)

	b.WriteString(systemContext)
	b.WriteString("\n\nCURRENT TASK:\n")
	fmt.Fprintf(&b, "- Requesting Agent: %s\n", t.AgentName)
	fmt.Fprintf(&b, "- Task Type: %s\n", t.TaskType)
	fmt.Fprintf(&b, "- Priority: %s\n", t.Priority)
	fmt.Fprintf(&b, "- Context: %s\n", t.Context)
	b.WriteString("\nAGENT-SPECIFIC GUIDANCE:\n")
	b.WriteString(Guidance(t.AgentName))
	b.WriteString("\n\nTASK CONTENT:\n")
	b.WriteString(renderContent(t.Content))
	b.WriteString("\n\n")
	b.WriteString(responseInstructions)
	return b.String()
}

// renderContent pretty-prints content with two-space indentation. Map keys
// come out sorted, so equal content always renders identically.
func renderContent(content map[string]any) string {
	if content == nil {
		content = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(content); err != nil {
		return fmt.Sprintf("%v", content)
	}
	return strings.TrimRight(buf.String(), "\n")
}
