package db

import (
	defError "errors"
	"log"

	"collaborative-draft-editor/internal/store/postgres"
)

// Migrate creates or updates the session tables
func Migrate() error {
	if AppDb == nil {
		return defError.New("migrate: database is not connected")
	}
	if err := AppDb.AutoMigrate(postgres.Models()...); err != nil {
		return err
	}
	log.Println("Database schema migrated successfully")
	return nil
}
