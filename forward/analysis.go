package forward

import (
	"context"
	"encoding/json"
	"net/url"
)

const (
	opAnalyze = "analyze"
	opReport  = "report"
)

type analyzeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

type analyzeResponse struct {
	AnalysisResult []json.RawMessage `json:"analysis_result"`
}

type reportRequest struct {
	Code    string            `json:"code"`
	CodeSum []json.RawMessage `json:"code_sum"`
}

type reportResponse struct {
	Report string `json:"report"`
}

// Analyzer forwards code to the analysis service
type Analyzer struct {
	client     *client
	analyzeURL string
	reportURL  string
}

// NewAnalyzer creates an analyzer for the service rooted at baseURL
func NewAnalyzer(baseURL string, conf Config) (*Analyzer, error) {
	analyzeURL, err := url.JoinPath(baseURL, opAnalyze)
	if err != nil {
		return nil, err
	}
	reportURL, err := url.JoinPath(baseURL, opReport)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		client:     newClient(conf),
		analyzeURL: analyzeURL,
		reportURL:  reportURL,
	}, nil
}

// Analyze returns the comments for code, in the order reported by the
// service. Comments are passed through unmodified. The language is only sent
// when non-empty. The result is never nil.
func (a *Analyzer) Analyze(ctx context.Context, code, language string) ([]json.RawMessage, error) {
	req := analyzeRequest{Code: code, Language: language}
	var resp analyzeResponse
	if err := a.client.post(ctx, ServiceAnalysis, opAnalyze, a.analyzeURL, &req, &resp); err != nil {
		return nil, err
	}
	if resp.AnalysisResult == nil {
		return []json.RawMessage{}, nil
	}
	return resp.AnalysisResult, nil
}

// Report asks the service to write a report for code given its analysis
func (a *Analyzer) Report(ctx context.Context, code string, summary []json.RawMessage) (string, error) {
	if summary == nil {
		summary = []json.RawMessage{}
	}
	req := reportRequest{Code: code, CodeSum: summary}
	var resp reportResponse
	if err := a.client.post(ctx, ServiceAnalysis, opReport, a.reportURL, &req, &resp); err != nil {
		return "", err
	}
	return resp.Report, nil
}

// CreateReport analyzes code and then writes the report from that analysis.
// The report is not requested when the analysis fails, and the analysis is
// discarded when the report fails.
func (a *Analyzer) CreateReport(ctx context.Context, code, language string) (string, error) {
	summary, err := a.Analyze(ctx, code, language)
	if err != nil {
		return "", err
	}
	return a.Report(ctx, code, summary)
}
