package assistant

import "strings"

// Role selects the specialization the assistant answers with. Each role
// carries its own system prompt.
type Role string

const (
	RoleTaskManager   Role = "task_manager"
	RoleCodeAssistant Role = "code_assistant"
	RoleCommunication Role = "communication"
	RoleResearch      Role = "research"
	RoleGeneral       Role = "general"
)

// roleSpecs maps each role to its display name and system prompt.
var roleSpecs = map[Role]roleSpec{
	RoleTaskManager: {
		name: "Task Management & Prioritization",
		systemPrompt: `You are a Task Management AI Agent.
Your expertise includes:
- Breaking down complex tasks into manageable steps
- Prioritizing tasks across multiple workstreams
- Estimating time requirements accurately
- Identifying automation opportunities
- Suggesting optimal work schedules
- Managing deadlines and dependencies

Always provide:
1. Clear, actionable steps
2. Time estimates
3. Priority recommendations
4. Automation suggestions
5. Risk assessment

Be concise but comprehensive.`,
	},
	RoleCodeAssistant: {
		name: "Code Generation & Debugging",
		systemPrompt: `You are a Code Assistant AI Agent.
Your expertise includes:
- Writing clean, efficient code in multiple languages
- Debugging and troubleshooting issues
- Code review and optimization
- Automated testing suggestions
- Documentation generation
- Best practices for rapid development

Always provide:
1. Working, tested code
2. Clear comments and documentation
3. Error handling
4. Performance considerations
5. Testing suggestions

Focus on code that works immediately and can be maintained easily.`,
	},
	RoleCommunication: {
		name: "Professional Communication",
		systemPrompt: `You are a Communication AI Agent.
Your expertise includes:
- Crafting professional emails and messages
- Meeting response templates
- Status update communications
- Conflict resolution language
- Professional boundary setting

Always provide:
1. Professional, appropriate tone
2. Clear, concise messaging
3. Multiple template options
4. Customization suggestions
5. Follow-up recommendations

Help maintain professional relationships across commitments.`,
	},
	RoleResearch: {
		name: "Research & Information Gathering",
		systemPrompt: `You are a Research AI Agent.
Your expertise includes:
- Quick information gathering and synthesis
- Technical research and analysis
- Market research and trends
- Competitive analysis
- Fact-checking and verification

Always provide:
1. Comprehensive yet concise information
2. Structured findings
3. Source recommendations
4. Key takeaways
5. Action items

Focus on actionable insights that save time and improve decision-making.`,
	},
	RoleGeneral: {
		name: "General Assistant",
		systemPrompt: `You are Jace, a pragmatic workforce assistant.
Answer directly and concisely. When a request involves running commands or
modifying files, describe the exact steps rather than vague guidance.`,
	},
}

type roleSpec struct {
	name         string
	systemPrompt string
}

// RoleInfo describes an available role for listing endpoints.
type RoleInfo struct {
	Role Role   `json:"role"`
	Name string `json:"name"`
}

// RouteRole picks a role from message keywords. Explicit role selection in
// requests always wins; this is the fallback for free-text chat.
func RouteRole(message string) Role {
	m := strings.ToLower(message)
	switch {
	case containsAny(m, "code", "debug", "function", "script", "compile", "bug"):
		return RoleCodeAssistant
	case containsAny(m, "email", "message", "reply", "meeting", "draft"):
		return RoleCommunication
	case containsAny(m, "research", "find out", "compare", "investigate", "summarize"):
		return RoleResearch
	case containsAny(m, "task", "prioritize", "deadline", "schedule", "plan"):
		return RoleTaskManager
	default:
		return RoleGeneral
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// AvailableRoles returns the roles the assistant can answer with.
func AvailableRoles() []RoleInfo {
	roles := []Role{RoleTaskManager, RoleCodeAssistant, RoleCommunication, RoleResearch, RoleGeneral}
	infos := make([]RoleInfo, 0, len(roles))
	for _, r := range roles {
		infos = append(infos, RoleInfo{Role: r, Name: roleSpecs[r].name})
	}
	return infos
}
