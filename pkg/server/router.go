package server

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const paramsContextKey contextKey = "path_params"

// Params holds path parameters extracted by ParamRouter
type Params map[string]string

// GetPathParam retrieves a path parameter from the request context
func GetPathParam(r *http.Request, name string) string {
	params, _ := r.Context().Value(paramsContextKey).(Params)
	if params == nil {
		return ""
	}
	return params[name]
}

// ParamRouter is a tiny router supporting patterns with {param} segments and
// per-route methods.
type ParamRouter struct {
	routes []route
}

type route struct {
	method  string // empty matches any method
	pattern string
	parts   []string
	handler http.HandlerFunc
}

// NewParamRouter creates a new ParamRouter instance
func NewParamRouter() *ParamRouter {
	return &ParamRouter{routes: make([]route, 0)}
}

// Handle registers a handler for any method on a pattern like "/ws/audio/{source_id}"
func (rtr *ParamRouter) Handle(pattern string, handler http.HandlerFunc) {
	rtr.HandleMethod("", pattern, handler)
}

// HandleMethod registers a handler for one method on pattern.
func (rtr *ParamRouter) HandleMethod(method, pattern string, handler http.HandlerFunc) {
	pattern = strings.TrimSuffix(pattern, "/")
	rtr.routes = append(rtr.routes, route{
		method:  method,
		pattern: pattern,
		parts:   splitPath(pattern),
		handler: handler,
	})
}

// ServeHTTP dispatches to the first route matching path and method. A path
// that matches only under other methods gets 405.
func (rtr *ParamRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	inParts := splitPath(strings.TrimSuffix(r.URL.Path, "/"))

	var allowed []string
	for _, rt := range rtr.routes {
		params, ok := rt.match(inParts)
		if !ok {
			continue
		}
		if rt.method != "" && rt.method != r.Method {
			allowed = append(allowed, rt.method)
			continue
		}
		ctx := context.WithValue(r.Context(), paramsContextKey, params)
		rt.handler(w, r.WithContext(ctx))
		return
	}

	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.NotFound(w, r)
}

func (rt route) match(inParts []string) (Params, bool) {
	if len(rt.parts) != len(inParts) {
		return nil, false
	}
	params := make(Params)
	for i, pp := range rt.parts {
		if isParam(pp) {
			params[strings.TrimSuffix(strings.TrimPrefix(pp, "{"), "}")] = inParts[i]
			continue
		}
		if pp != inParts[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	if p == "" || p == "/" {
		return []string{""}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	// The leading empty element lines up with the pattern's root slash.
	return strings.Split(p, "/")
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2
}
