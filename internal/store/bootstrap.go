package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates the system tables and seeds the initial admin user if
// no users exist yet.
func (s *Store) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	// One statement per Exec: the pgx database/sql driver rejects
	// multi-statement strings.
	for _, stmt := range strings.Split(s.Dialect.SystemTablesSQL(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create system tables: %w", err)
		}
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	if adminEmail == "" || adminPassword == "" {
		log.Println("WARN: no users and no admin credentials configured; login is unavailable")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	pb := s.Dialect.NewParamBuilder()
	_, err = s.DB.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO _users (id, email, password_hash, roles, active) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(uuid.New().String()), pb.Add(adminEmail), pb.Add(string(hash)),
		pb.Add(s.Dialect.ArrayParam([]string{"admin"})), pb.Add(true)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}

	log.Printf("Seeded admin user %s", adminEmail)
	return nil
}
