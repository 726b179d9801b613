package resteditor

import (
	"context"
	"net/http"

	"github.com/codepad-dev/editor-gateway/cmd/editor-gateway/model"
	"github.com/codepad-dev/editor-gateway/forward"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Resolver maps an editor language label to a runtime identifier. Any error
// is reported to the client as an unsupported language.
type Resolver interface {
	Resolve(label string) (string, error)
	Labels() []string
}

// Executor runs code on the remote execution backend
type Executor interface {
	Execute(ctx context.Context, runtime, code string) (*forward.ExecResult, error)
}

type executeHandle struct {
	resolver Resolver
	executor Executor
	logger   *zap.Logger
}

// NewExecuteHandle creates a new execute handle
func NewExecuteHandle(resolver Resolver, executor Executor, logger *zap.Logger) Register {
	return &executeHandle{
		resolver: resolver,
		executor: executor,
		logger:   logger,
	}
}

func (e *executeHandle) Register(r *gin.Engine) {
	r.POST("/execute", e.handleExecute)
}

func (e *executeHandle) handleExecute(ctx *gin.Context) {
	var req model.Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.ExecuteInvalidRequest())
		return
	}
	if err := req.Validate(); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.ExecuteInvalidRequest())
		return
	}

	runtime, err := e.resolver.Resolve(req.Language)
	if err != nil {
		// no outbound call for labels without a runtime
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.ExecuteBadRequest(model.MsgUnsupportedLanguage))
		return
	}

	e.logger.Sugar().Debugf("execute request: %v runtime: %s", req, runtime)
	rt, err := e.executor.Execute(ctx.Request.Context(), runtime, req.Source())
	if err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, model.ConvertExecError(err))
		return
	}
	e.logger.Sugar().Debugf("execute response: output:len:%d", len(rt.Output))
	ctx.JSON(http.StatusOK, model.ConvertExecResult(rt))
}
