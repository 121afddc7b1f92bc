package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is a named, ordered list of idempotent DDL statements.
type Schema struct {
	Name       string
	Statements []string
}

// Apply executes every statement of the schema inside one transaction.
func (s Schema) Apply(db *sqlx.DB) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("apply schema %s: %w", s.Name, err)
	}
	defer tx.Rollback()

	for _, stmt := range s.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema %s: %w", s.Name, err)
		}
	}
	return tx.Commit()
}
