package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codepad-dev/editor-gateway/forward"
)

// Messages returned to the editor, kept stable for existing clients
const (
	MsgUnsupportedLanguage = "Unsupported language"
	MsgExecutionFailed     = "Error communicating with Piston API"
	MsgAnalysisFailed      = "Failed to check code on Flask server"
	MsgInvalidRequest      = "Invalid request"
)

// ErrMissingCode is returned by Validate when the request has no code field
var ErrMissingCode = errors.New("missing code")

// Request defines the body of /execute, /checklint and /crerep. Code is a
// pointer so an absent field can be told apart from empty code.
type Request struct {
	Code     *string `json:"code"`
	Language string  `json:"language"`
}

// Validate checks that code is present, empty code is valid
func (r Request) Validate() error {
	if r.Code == nil {
		return ErrMissingCode
	}
	return nil
}

// Source returns the submitted code verbatim
func (r Request) Source() string {
	if r.Code == nil {
		return ""
	}
	return *r.Code
}

func (r Request) String() string {
	return fmt.Sprintf("{Code:len:%d Language:%s}", len(r.Source()), r.Language)
}

// ExecuteResponse defines the /execute reply. Error is null when the program
// wrote nothing to stderr.
type ExecuteResponse struct {
	Output string  `json:"output"`
	Error  *string `json:"error"`
}

// ExecuteError defines the /execute error envelope
type ExecuteError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ExecuteBadRequest builds the /execute envelope for rejected input
func ExecuteBadRequest(msg string) ExecuteError {
	return ExecuteError{Error: msg}
}

// ExecuteInvalidRequest is the /execute envelope for a malformed body
func ExecuteInvalidRequest() ExecuteError {
	return ExecuteBadRequest(MsgInvalidRequest)
}

// LintResponse defines the /checklint reply and the shared analysis error
// envelope. Comments is always present, empty on error.
type LintResponse struct {
	Comments []json.RawMessage `json:"comments"`
	Error    string            `json:"error,omitempty"`
}

// ReportResponse defines the /crerep reply
type ReportResponse struct {
	Output string `json:"output"`
}

// LanguagesResponse lists the supported language labels
type LanguagesResponse struct {
	Languages []string `json:"languages"`
}

// ConvertExecResult converts the forwarder result to the /execute reply
func ConvertExecResult(r *forward.ExecResult) ExecuteResponse {
	return ExecuteResponse{
		Output: r.Output,
		Error:  r.Error,
	}
}

// ConvertExecError converts an execution failure to the /execute envelope
func ConvertExecError(err error) ExecuteError {
	rt := ExecuteError{Error: MsgExecutionFailed, Details: err.Error()}
	var ue *forward.UpstreamError
	if errors.As(err, &ue) {
		rt.Details = ue.Message
	}
	return rt
}

// ConvertComments converts the analysis result to the /checklint reply
func ConvertComments(c []json.RawMessage) LintResponse {
	if c == nil {
		c = []json.RawMessage{}
	}
	return LintResponse{Comments: c}
}

// AnalysisError is the envelope for any /checklint or /crerep upstream failure
func AnalysisError() LintResponse {
	return AnalysisBadRequest(MsgAnalysisFailed)
}

// AnalysisInvalidRequest is the /checklint and /crerep envelope for a
// malformed body
func AnalysisInvalidRequest() LintResponse {
	return AnalysisBadRequest(MsgInvalidRequest)
}

// AnalysisBadRequest builds the /checklint and /crerep envelope for rejected input
func AnalysisBadRequest(msg string) LintResponse {
	return LintResponse{
		Comments: []json.RawMessage{},
		Error:    msg,
	}
}
