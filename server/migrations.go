package server

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/labelstore/server/auth"
	"github.com/cyclopcam/labelstore/server/model"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Open or create the DB, and make sure that it has at least one user
func openDB(log logs.Log, config dbh.DBConfig, adminPassword string) (*gorm.DB, *auth.AuthServer, error) {
	db, err := model.OpenDB(log, config, 0)
	if err != nil {
		return nil, nil, err
	}
	authServer := auth.NewAuthServer(db, log)
	nUsers, err := authServer.NumUsers()
	if err != nil {
		return nil, nil, err
	}
	if nUsers == 0 {
		pwd := adminPassword
		log.Infof("auth_user table is empty, creating admin user.")
		log.Infof("Username: admin")
		if pwd == "" {
			pwd = auth.StrongRandomAlphaNumChars(20)
			log.Infof("Password: %v", pwd)
		}
		if _, err := authServer.CreateUser("admin", "", pwd, true); err != nil {
			return nil, nil, err
		}
	}
	return db, authServer, nil
}
