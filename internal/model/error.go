package model

// AppError is the single error payload shape used by the CLI and the HTTP API.
// Every stage error (parse, extract, ports, synthesize, fetch) carries one.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL     string `json:"url,omitempty"`
	Line    int    `json:"line,omitempty"`    // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty"` // truncated to 200 chars
	Hint    string `json:"hint,omitempty"`
}

type ErrorResponse struct {
	Error AppError `json:"error"`
}

// Stage names shared across packages.
const (
	StageParseTemplate    = "parse_template"
	StageValidateTemplate = "validate_template"
	StageParseNodes       = "parse_nodes"
	StageExtractNodes     = "extract_nodes"
	StageValidatePorts    = "validate_ports"
	StageSynthesize       = "synthesize"
	StageValidateRequest  = "validate_request"
)
