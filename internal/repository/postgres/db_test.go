package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaStatements(t *testing.T) {
	stmts := splitStatements(schemaSQL)
	assert.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.True(t,
			strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS") || strings.HasPrefix(s, "CREATE INDEX IF NOT EXISTS"),
			"statement is not idempotent: %s", s)
	}
}
