package forward

import (
	"context"
	"net/http"
)

// NoOutput replaces an empty program output
const NoOutput = "No output"

const opExecute = "execute"

// ExecResult is the normalized reply of the execution backend
type ExecResult struct {
	Output string
	// Error holds the program stderr, nil when it is empty
	Error *string
}

type pistonFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
}

type pistonStage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Output string  `json:"output"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

type pistonResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      *pistonStage `json:"run"`
	Compile  *pistonStage `json:"compile"`
}

// Executor forwards code to a piston compatible execution backend
type Executor struct {
	client  *client
	url     string
	version string
}

// NewExecutor creates an executor posting to url. An empty version selects
// the latest runtime ("*").
func NewExecutor(url, version string, conf Config) *Executor {
	if version == "" {
		version = "*"
	}
	return &Executor{
		client:  newClient(conf),
		url:     url,
		version: version,
	}
}

// Execute runs code with the given runtime identifier. The code is sent
// verbatim as a single file.
func (e *Executor) Execute(ctx context.Context, runtime, code string) (*ExecResult, error) {
	req := pistonRequest{
		Language: runtime,
		Version:  e.version,
		Files:    []pistonFile{{Content: code}},
	}
	var resp pistonResponse
	if err := e.client.post(ctx, ServicePiston, opExecute, e.url, &req, &resp); err != nil {
		return nil, err
	}
	if resp.Run == nil {
		return nil, &UpstreamError{
			Service:    ServicePiston,
			Op:         opExecute,
			StatusCode: http.StatusOK,
			Message:    "response has no run result",
		}
	}
	return convertRun(resp.Run), nil
}

func convertRun(r *pistonStage) *ExecResult {
	rt := &ExecResult{Output: r.Output}
	if rt.Output == "" {
		rt.Output = NoOutput
	}
	if r.Stderr != "" {
		stderr := r.Stderr
		rt.Error = &stderr
	}
	return rt
}
