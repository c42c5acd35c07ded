package messaging

const (
	MessageKernelStatusIdle     = "idle"
	MessageKernelStatusBusy     = "busy"
	MessageKernelStatusStarting = "starting"

	ExecuteStatusOK    = "ok"
	ExecuteStatusError = "error"
	ExecuteStatusAbort = "aborted"

	IsCompleteStatusComplete   = "complete"
	IsCompleteStatusIncomplete = "incomplete"
	IsCompleteStatusInvalid    = "invalid"
	IsCompleteStatusUnknown    = "unknown"

	HistAccessRange  = "range"
	HistAccessTail   = "tail"
	HistAccessSearch = "search"
)

type ExecuteRequestContent struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

type ExecuteReplyContent struct {
	Status          string                 `json:"status"`
	ExecutionCount  int                    `json:"execution_count"`
	UserExpressions map[string]interface{} `json:"user_expressions,omitempty"`
	ErrorName       string                 `json:"ename,omitempty"`
	ErrorValue      string                 `json:"evalue,omitempty"`
	Traceback       []string               `json:"traceback,omitempty"`
}

type InspectRequestContent struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

type CompleteRequestContent struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

type CompleteReplyContent struct {
	Status      string                 `json:"status"`
	Matches     []string               `json:"matches"`
	CursorStart int                    `json:"cursor_start"`
	CursorEnd   int                    `json:"cursor_end"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// HistoryRequestContent requests entries from the kernel's history. Which of the optional fields are
// meaningful depends on HistAccessType.
type HistoryRequestContent struct {
	Raw            bool   `json:"raw"`
	Output         bool   `json:"output"`
	HistAccessType string `json:"hist_access_type"`
	Session        int    `json:"session,omitempty"`
	Start          int    `json:"start,omitempty"`
	Stop           int    `json:"stop,omitempty"`
	N              int    `json:"n,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
	Unique         bool   `json:"unique,omitempty"`
}

type IsCompleteRequestContent struct {
	Code string `json:"code"`
}

type IsCompleteReplyContent struct {
	Status string `json:"status"`
	Indent string `json:"indent,omitempty"`
}

type KernelInfoReplyContent struct {
	Status                string                 `json:"status"`
	ProtocolVersion       string                 `json:"protocol_version"`
	Implementation        string                 `json:"implementation"`
	ImplementationVersion string                 `json:"implementation_version"`
	LanguageInfo          map[string]interface{} `json:"language_info"`
	Banner                string                 `json:"banner"`
}

type CommInfoRequestContent struct {
	TargetName string `json:"target_name,omitempty"`
}

type InputRequestContent struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

type InputReplyContent struct {
	Value string `json:"value"`
}

type ShutdownRequestContent struct {
	Restart bool `json:"restart"`
}

type MessageKernelStatus struct {
	Status string `json:"execution_state"`
}

type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ExecuteResultContent is shared by execute_result and display_data messages.
type ExecuteResultContent struct {
	ExecutionCount int                    `json:"execution_count,omitempty"`
	Data           map[string]interface{} `json:"data"`
	Metadata       map[string]interface{} `json:"metadata"`
}

type ErrorContent struct {
	ErrorName  string   `json:"ename"`
	ErrorValue string   `json:"evalue"`
	Traceback  []string `json:"traceback"`
}

// EmptyContent is the content of requests without parameters, such as kernel_info_request.
type EmptyContent struct{}
