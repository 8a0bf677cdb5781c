package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Pipeline is an ordered list of middleware stages. The first stage sees the
// request first; a stage that writes a response without calling its
// successor ends the pipeline there.
type Pipeline struct {
	stages []func(http.Handler) http.Handler
}

// Chain builds a Pipeline from stages in request order. Nil stages are
// skipped so optional stages can be passed unconditionally.
func Chain(stages ...func(http.Handler) http.Handler) Pipeline {
	p := Pipeline{}
	return p.Append(stages...)
}

// Append returns a new Pipeline with stages added after the existing ones.
func (p Pipeline) Append(stages ...func(http.Handler) http.Handler) Pipeline {
	out := make([]func(http.Handler) http.Handler, 0, len(p.stages)+len(stages))
	out = append(out, p.stages...)
	for _, s := range stages {
		if s != nil {
			out = append(out, s)
		}
	}
	return Pipeline{stages: out}
}

// Then wraps h so that every stage runs before it.
func (p Pipeline) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.stages[i](h)
	}
	return h
}

func (p Pipeline) ThenFunc(fn http.HandlerFunc) http.Handler {
	if fn == nil {
		return p.Then(nil)
	}
	return p.Then(fn)
}

// Middleware adapts the pipeline for mux.Router.Use.
func (p Pipeline) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return p.Then(next)
	}
}

func (p Pipeline) Len() int {
	return len(p.stages)
}
