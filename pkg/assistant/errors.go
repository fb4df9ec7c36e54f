package assistant

import "fmt"

// ToolServerError reports an MCP tool server that could not be started for
// an agent. The invocation is aborted.
type ToolServerError struct {
	Agent string
	Err   error
}

func (e *ToolServerError) Error() string {
	return fmt.Sprintf("Failed to initialize tool server for %s", e.Agent)
}

func (e *ToolServerError) Unwrap() error {
	return e.Err
}

// Detail returns the underlying error text.
func (e *ToolServerError) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
