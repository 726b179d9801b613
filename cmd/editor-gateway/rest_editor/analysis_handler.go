package resteditor

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/codepad-dev/editor-gateway/cmd/editor-gateway/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Analyzer lints code and writes reports through the analysis service
type Analyzer interface {
	Analyze(ctx context.Context, code, language string) ([]json.RawMessage, error)
	CreateReport(ctx context.Context, code, language string) (string, error)
}

type analysisHandle struct {
	analyzer Analyzer
	logger   *zap.Logger
}

// NewAnalysisHandle creates a new lint / report handle
func NewAnalysisHandle(analyzer Analyzer, logger *zap.Logger) Register {
	return &analysisHandle{
		analyzer: analyzer,
		logger:   logger,
	}
}

func (a *analysisHandle) Register(r *gin.Engine) {
	r.POST("/checklint", a.handleCheckLint)
	r.POST("/crerep", a.handleCreateReport)
}

func (a *analysisHandle) bind(ctx *gin.Context) (model.Request, bool) {
	var req model.Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.AnalysisInvalidRequest())
		return req, false
	}
	if err := req.Validate(); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.AnalysisInvalidRequest())
		return req, false
	}
	return req, true
}

func (a *analysisHandle) handleCheckLint(ctx *gin.Context) {
	req, ok := a.bind(ctx)
	if !ok {
		return
	}
	a.logger.Sugar().Debugf("lint request: %v", req)

	// linting only needs the code
	comments, err := a.analyzer.Analyze(ctx.Request.Context(), req.Source(), "")
	if err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, model.AnalysisError())
		return
	}
	ctx.JSON(http.StatusOK, model.ConvertComments(comments))
}

func (a *analysisHandle) handleCreateReport(ctx *gin.Context) {
	req, ok := a.bind(ctx)
	if !ok {
		return
	}
	a.logger.Sugar().Debugf("report request: %v", req)

	report, err := a.analyzer.CreateReport(ctx.Request.Context(), req.Source(), req.Language)
	if err != nil {
		ctx.Error(err)
		// same envelope as /checklint, existing editors rely on it
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, model.AnalysisError())
		return
	}
	ctx.JSON(http.StatusOK, model.ReportResponse{Output: report})
}
