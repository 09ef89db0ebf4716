package wire

// Responses wire format. Messages travel under "input"; tool definitions are
// flat (name/description/parameters at the top level of the tool object).

// ResponsesRequest is the Responses-side request document.
type ResponsesRequest struct {
	Model              string             `json:"model"`
	Input              []ResponsesMessage `json:"input"`
	Temperature        *float64           `json:"temperature,omitempty"`
	TopP               *float64           `json:"top_p,omitempty"`
	MaxOutputTokens    *int               `json:"max_output_tokens,omitempty"`
	Stop               any                `json:"stop,omitempty"`
	PresencePenalty    *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty   *float64           `json:"frequency_penalty,omitempty"`
	LogitBias          map[string]float64 `json:"logit_bias,omitempty"`
	User               *string            `json:"user,omitempty"`
	N                  *int               `json:"n,omitempty"`
	Tools              []ResponsesTool    `json:"tools,omitempty"`
	ToolChoice         any                `json:"tool_choice,omitempty"`
	ResponseFormat     map[string]any     `json:"response_format,omitempty"`
	Stream             *bool              `json:"stream,omitempty"`
	Conversation       *string            `json:"conversation,omitempty"`
	PreviousResponseID *string            `json:"previous_response_id,omitempty"`
}

// ResponsesMessage mirrors ChatMessage with Responses part typing inside
// Content ("input_text", "input_image", "input_audio").
type ResponsesMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	Name       *string    `json:"name,omitempty"`
	ToolCallID *string    `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ResponsesTool is the flat Responses tool definition form.
type ResponsesTool struct {
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Parameters  any     `json:"parameters,omitempty"`
}

// ResponsesResponse is the Responses-side response document.
type ResponsesResponse struct {
	ID                string          `json:"id"`
	Object            string          `json:"object"`
	Created           int64           `json:"created"`
	Model             string          `json:"model"`
	OutputText        *string         `json:"output_text,omitempty"`
	Output            []OutputItem    `json:"output"`
	Usage             *ResponsesUsage `json:"usage,omitempty"`
	SystemFingerprint *string         `json:"system_fingerprint,omitempty"`
}

// OutputItem is a tagged output element. Type is one of "message",
// "function_call", or "function_call_output"; the populated fields depend on
// the type.
type OutputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Content   string `json:"content,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

const (
	OutputItemMessage            = "message"
	OutputItemFunctionCall       = "function_call"
	OutputItemFunctionCallOutput = "function_call_output"
)

// ResponsesUsage is the Responses-side token accounting block.
type ResponsesUsage struct {
	InputTokens     int  `json:"input_tokens"`
	OutputTokens    int  `json:"output_tokens"`
	TotalTokens     int  `json:"total_tokens"`
	CachedTokens    *int `json:"cached_tokens,omitempty"`
	ReasoningTokens *int `json:"reasoning_tokens,omitempty"`
}

// ResponsesChunk is one SSE streaming chunk in Responses format.
type ResponsesChunk struct {
	ID              string          `json:"id"`
	Object          string          `json:"object"`
	Created         int64           `json:"created"`
	Model           string          `json:"model"`
	OutputTextDelta *string         `json:"output_text_delta,omitempty"`
	OutputDeltas    []OutputItem    `json:"output_deltas,omitempty"`
	FinishReason    *string         `json:"finish_reason,omitempty"`
	Usage           *ResponsesUsage `json:"usage,omitempty"`
}
