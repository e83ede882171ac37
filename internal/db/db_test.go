package db

import (
	"testing"

	"collaborative-draft-editor/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	cfg := config.Config{DBHost: "db", DBPort: "5433", DBUser: "editor", DBPassword: "pw", DBName: "drafts"}

	assert.Equal(t, "host=db user=editor password=pw dbname=drafts port=5433 sslmode=disable", DSN(cfg))
}

func TestCloseDb_WithoutConnection(t *testing.T) {
	AppDb = nil
	assert.NotPanics(t, CloseDb)
}

func TestMigrate_RequiresConnection(t *testing.T) {
	AppDb = nil
	assert.Error(t, Migrate())
}
