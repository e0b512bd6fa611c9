package main

import (
	"database/sql"

	"github.com/commsapp/server/repository"
)

// Repositories holds every repository instance so the wire-up
// functions pass one value instead of a parameter per store.
type Repositories struct {
	User    repository.UserRepository
	Server  repository.ServerRepository
	Message repository.MessageRepository
}

// initRepositories creates all repositories over the shared connection
// pool. sql.DB is safe to share.
func initRepositories(conn *sql.DB) *Repositories {
	return &Repositories{
		User:    repository.NewSQLiteUserRepo(conn),
		Server:  repository.NewSQLiteServerRepo(conn),
		Message: repository.NewSQLiteMessageRepo(conn),
	}
}
