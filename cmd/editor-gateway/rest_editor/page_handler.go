package resteditor

import (
	"html/template"
	"io/fs"
	"net/http"

	"github.com/codepad-dev/editor-gateway/cmd/editor-gateway/model"
	"github.com/gin-gonic/gin"
)

type pageHandle struct {
	tmpl     *template.Template
	static   fs.FS
	resolver Resolver
}

// NewPageHandle creates the handle serving the editor page, its assets and
// the list of languages
func NewPageHandle(tmpl *template.Template, static fs.FS, resolver Resolver) Register {
	return &pageHandle{
		tmpl:     tmpl,
		static:   static,
		resolver: resolver,
	}
}

func (p *pageHandle) Register(r *gin.Engine) {
	r.SetHTMLTemplate(p.tmpl)
	r.GET("/", p.handleEditor)
	r.GET("/languages", p.handleLanguages)
	r.StaticFS("/static", http.FS(p.static))
}

func (p *pageHandle) handleEditor(c *gin.Context) {
	c.HTML(http.StatusOK, "editor.html", gin.H{
		"Languages": p.resolver.Labels(),
	})
}

func (p *pageHandle) handleLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, model.LanguagesResponse{Languages: p.resolver.Labels()})
}
