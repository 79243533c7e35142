package domain

// Role defines the sender of a message.
type Role string

const (
	// RoleSystem indicates the fixed system prompt.
	RoleSystem Role = "system"
	// RoleUser indicates a message from the user, including turns that carry tool results.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
	// RoleTool labels tool result consumption in budget logs and traces.
	RoleTool Role = "tool_result"
)

// Content block types.
const (
	ContentTypeText       = "text"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)
