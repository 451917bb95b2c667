package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/labelstore/server/model"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/www"
	"gorm.io/gorm"
)

type AuthType int

const (
	AuthTypeToken            AuthType = 1 // Authorization: Token <key>
	AuthTypeUsernamePassword AuthType = 2 // HTTP basic auth
)

// Sessions created by Login expire after this long
const SessionLifetime = 365 * 24 * time.Hour

var ErrBadCredentials = errors.New("Invalid username or password")

type Credentials struct {
	UserID                           int64
	IsAdmin                          bool
	AuthenticatedViaToken            string // If authenticated via token, this is HashSessionToken(token)
	AuthenticatedViaUsernamePassword bool
}

func (c *Credentials) PanicIfNotAdmin() {
	if !c.IsAdmin {
		www.PanicForbiddenf("You must be an administrator to do this")
	}
}

type AuthServer struct {
	db  *gorm.DB
	log logs.Log
}

func NewAuthServer(db *gorm.DB, log logs.Log) *AuthServer {
	return &AuthServer{
		db:  db,
		log: log,
	}
}

// If authorization fails, sends a response to 'w', and returns nil
// If authorization succeeds, returns a non-nil Credentials
func (a *AuthServer) AuthenticateRequest(w http.ResponseWriter, r *http.Request, allowModes AuthType) *Credentials {
	if cred := a.authenticate(r, allowModes); cred != nil {
		return cred
	}
	www.SendError(w, "Unauthorized", http.StatusUnauthorized)
	return nil
}

func (a *AuthServer) authenticate(r *http.Request, allowModes AuthType) *Credentials {
	authorization := r.Header.Get("Authorization")
	if allowModes&AuthTypeToken != 0 && strings.HasPrefix(authorization, "Token ") {
		hashed := HashSessionToken(strings.TrimSpace(authorization[6:]))
		session := model.AuthSession{}
		a.db.Where("key = ?", hashed).Find(&session)
		if session.AuthUserID != 0 && session.ExpiresAt.After(time.Now()) {
			user := model.AuthUser{}
			a.db.Where("id = ?", session.AuthUserID).Find(&user)
			if user.ID != 0 {
				return &Credentials{
					UserID:                user.ID,
					IsAdmin:               user.IsAdmin,
					AuthenticatedViaToken: hashed,
				}
			}
		}
	}
	if allowModes&AuthTypeUsernamePassword != 0 {
		if username, password, ok := r.BasicAuth(); ok {
			if user, err := a.VerifyPassword(username, "", password); err == nil {
				return &Credentials{
					UserID:                           user.ID,
					IsAdmin:                          user.IsAdmin,
					AuthenticatedViaUsernamePassword: true,
				}
			}
		}
	}
	return nil
}

// VerifyPassword finds the user by username, or by email if username is empty, and checks the password
func (a *AuthServer) VerifyPassword(username, email, password string) (*model.AuthUser, error) {
	user := model.AuthUser{}
	q := a.db
	if username != "" {
		q = q.Where("username = ?", username)
	} else if email != "" {
		q = q.Where("email = ?", email)
	} else {
		return nil, ErrBadCredentials
	}
	if err := q.Find(&user).Error; err != nil {
		return nil, err
	}
	if user.ID == 0 || !VerifyHash(password, user.Password) {
		return nil, ErrBadCredentials
	}
	return &user, nil
}

// SYNC-LABELSTORE-LOGIN
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Key string `json:"key"`
}

// Login accepts a JSON LoginRequest, or HTTP basic auth, and responds with a new session token
func (a *AuthServer) Login(w http.ResponseWriter, r *http.Request) {
	req := LoginRequest{}
	if username, password, ok := r.BasicAuth(); ok {
		req.Username = username
		req.Password = password
	} else {
		www.ReadJSON(w, r, &req, 64*1024)
	}
	user, err := a.VerifyPassword(req.Username, req.Email, req.Password)
	if errors.Is(err, ErrBadCredentials) {
		www.SendError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	www.Check(err)

	token, err := a.CreateSession(user.ID)
	www.Check(err)
	a.log.Infof("Logging %v (%v) in", user.ID, user.Username)
	www.SendJSON(w, &LoginResponse{Key: token})
}

// CreateSession returns the plaintext token of a new session
func (a *AuthServer) CreateSession(userID int64) (string, error) {
	now := time.Now().UTC()
	token := StrongRandomAlphaNumChars(32)
	session := model.AuthSession{
		Key:        HashSessionToken(token),
		AuthUserID: userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(SessionLifetime),
	}
	if err := a.db.Create(&session).Error; err != nil {
		return "", err
	}
	a.PurgeExpiredSessions()
	return token, nil
}

func (a *AuthServer) Logout(w http.ResponseWriter, r *http.Request, cred *Credentials) {
	if cred.AuthenticatedViaToken != "" {
		www.Check(a.db.Where("key = ?", cred.AuthenticatedViaToken).Delete(&model.AuthSession{}).Error)
	}
	www.SendOK(w)
}

// Erase all sessions except the authentication mechanism that was used to issue this API request
func (a *AuthServer) EraseAllSessionsExceptCallingSession(cred *Credentials) error {
	var err error
	if cred.AuthenticatedViaToken != "" {
		err = a.db.Where("auth_user_id = ? AND key != ?", cred.UserID, cred.AuthenticatedViaToken).Delete(&model.AuthSession{}).Error
	} else {
		err = a.db.Where("auth_user_id = ?", cred.UserID).Delete(&model.AuthSession{}).Error
	}
	if err != nil {
		a.log.Errorf("Error erasing sessions: %v", err)
	}
	return err
}

func (a *AuthServer) PurgeExpiredSessions() {
	if err := a.db.Where("expires_at < ?", time.Now().UTC()).Delete(&model.AuthSession{}).Error; err != nil {
		a.log.Warnf("PurgeExpiredSessions failed: %v", err)
	}
}
