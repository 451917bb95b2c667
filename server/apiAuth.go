package server

import (
	"net/http"
	"strings"

	"github.com/cyclopcam/labelstore/server/auth"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpAuthLogin(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.auth.Login(w, r)
}

func (s *Server) httpAuthLogout(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	s.auth.Logout(w, r, cred)
}

// Users can set their own password. Admins can set anybody's password.
func (s *Server) httpAuthSetPassword(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	userID := www.ParseID(params.ByName("userid"))
	if userID == 0 {
		www.PanicBadRequestf("Invalid user ID")
	}
	password := strings.TrimSpace(www.QueryValue(r, "password"))
	if err := auth.IsPasswordOK(password); err != nil {
		www.PanicBadRequestf("%v", err)
	}
	if userID != cred.UserID && !cred.IsAdmin {
		www.PanicForbiddenf("You can only set your own password")
	}
	www.Check(s.auth.SetPassword(userID, password))

	if userID == cred.UserID {
		// Erase all login sessions except for the one that made this request
		s.auth.EraseAllSessionsExceptCallingSession(cred)
	} else {
		s.auth.EraseAllSessionsExceptCallingSession(&auth.Credentials{UserID: userID})
	}

	www.SendOK(w)
}

func (s *Server) httpAuthCheck(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	type response struct {
		UserID  int64 `json:"userID"`
		IsAdmin bool  `json:"isAdmin"`
	}
	www.SendJSON(w, response{UserID: cred.UserID, IsAdmin: cred.IsAdmin})
}

// SYNC-LABELSTORE-USER
type userJSON struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (s *Server) httpAuthCreateUser(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	cred.PanicIfNotAdmin()
	type request struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		IsAdmin  bool   `json:"isAdmin"`
	}
	req := request{}
	www.ReadJSON(w, r, &req, 1024*1024)
	user, err := s.auth.CreateUser(strings.TrimSpace(req.Username), strings.TrimSpace(req.Email), req.Password, req.IsAdmin)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	s.Log.Infof("User %v created user %v (%v)", cred.UserID, user.ID, user.Username)
	www.SendJSON(w, userJSON{ID: user.ID, Username: user.Username, Email: user.Email, IsAdmin: user.IsAdmin})
}

func (s *Server) httpAuthListUsers(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	cred.PanicIfNotAdmin()
	users, err := s.auth.AllUsers()
	www.Check(err)
	resp := []userJSON{}
	for _, u := range users {
		resp = append(resp, userJSON{ID: u.ID, Username: u.Username, Email: u.Email, IsAdmin: u.IsAdmin})
	}
	www.SendJSON(w, resp)
}
