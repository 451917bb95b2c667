package auth

import (
	"errors"
	"time"

	"github.com/cyclopcam/labelstore/server/model"
)

func (a *AuthServer) CreateUser(username, email, password string, isAdmin bool) (*model.AuthUser, error) {
	if username == "" {
		return nil, errors.New("username cannot be empty")
	}
	if err := IsPasswordOK(password); err != nil {
		return nil, err
	}
	existing := int64(0)
	if err := a.db.Model(&model.AuthUser{}).Where("username = ?", username).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing != 0 {
		return nil, errors.New("username is already taken")
	}
	user := model.AuthUser{
		Username:  username,
		Email:     email,
		Password:  HashPassword(password),
		IsAdmin:   isAdmin,
		CreatedAt: time.Now().UTC(),
	}
	return &user, a.db.Create(&user).Error
}

func (a *AuthServer) SetPassword(userID int64, password string) error {
	if err := IsPasswordOK(password); err != nil {
		return err
	}
	return a.db.Model(&model.AuthUser{}).Where("id = ?", userID).Update("password", HashPassword(password)).Error
}

func (a *AuthServer) AllUsers() ([]model.AuthUser, error) {
	var users []model.AuthUser
	return users, a.db.Order("id").Find(&users).Error
}

func (a *AuthServer) NumUsers() (int64, error) {
	n := int64(0)
	return n, a.db.Model(&model.AuthUser{}).Count(&n).Error
}
