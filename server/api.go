package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/labelstore/pkg/taskapi"
	"github.com/cyclopcam/labelstore/server/auth"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

// Login attempts per IP address, per loginRateWindow
const loginRateLimit = 20
const loginRateWindow = time.Minute

type authenticatedHandler func(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials)

func (s *Server) setupHttpRoutes() {
	logEveryRequest := false
	router := httprouter.New()
	prefix := taskapi.APIPrefix

	// protected creates an HTTP handler that is accessible only with authentication
	protected := func(method, route string, handle authenticatedHandler) {
		allowModes := auth.AuthTypeToken
		if s.AlwaysAllowBASICAuth {
			allowModes |= auth.AuthTypeUsernamePassword
		}
		www.Handle(s.Log, router, method, prefix+route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP (protected) %v %v", method, r.URL.Path)
			}
			cred := s.auth.AuthenticateRequest(w, r, allowModes)
			if cred == nil {
				return
			}
			handle(w, r, params, cred)
		})
	}

	// unprotected creates an HTTP handler that is accessible without authentication
	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, prefix+route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP (unprotected) %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// rateLimited is an unprotected handler with a per-IP request limit
	rateLimited := func(method, route string, requestLimit int, windowLength time.Duration, handle httprouter.Handle) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		unprotected(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	unprotected("GET", "/ping", s.httpPing)
	protected("GET", "/formats", s.tasks.HttpFormats)

	rateLimited("POST", "/auth/login", loginRateLimit, loginRateWindow, s.httpAuthLogin)
	protected("POST", "/auth/logout", s.httpAuthLogout)
	protected("GET", "/auth/check", s.httpAuthCheck)
	protected("POST", "/auth/setPassword/:userid", s.httpAuthSetPassword)
	protected("POST", "/auth/users", s.httpAuthCreateUser)
	protected("GET", "/auth/users", s.httpAuthListUsers)

	protected("POST", "/projects", s.tasks.HttpCreateProject)
	protected("GET", "/projects/:id/annotations", s.tasks.HttpExportProject)

	protected("POST", "/tasks", s.tasks.HttpCreateTask)
	protected("GET", "/tasks", s.tasks.HttpListTasks)
	protected("GET", "/tasks/:id/data/meta", s.tasks.HttpDataMeta)
	protected("PUT", "/tasks/:id/frames/:frame", s.tasks.HttpPutFrame)
	protected("GET", "/tasks/:id/frames/:frame", s.tasks.HttpGetFrame)
	protected("PUT", "/tasks/:id/annotations", s.tasks.HttpImportAnnotations)
	protected("GET", "/tasks/:id/annotations", s.tasks.HttpExportAnnotations)
	protected("DELETE", "/tasks/:id/annotations", s.tasks.HttpDeleteAnnotations)

	s.httpRouter = router
}
