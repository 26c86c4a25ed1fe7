package store

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestSQLiteTimestampRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE tokens (token TEXT, expires_at TEXT NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	d := &SQLiteDialect{}
	want := time.Now().Add(time.Hour).UTC()

	// A raw time.Time would be stored as Go's String() form and never parse
	// back; TimeParam keeps it readable
	pb := d.NewParamBuilder()
	_, err = Exec(ctx, db, "INSERT INTO tokens (token, expires_at) VALUES ("+
		pb.Add("t1")+", "+pb.Add(d.TimeParam(want))+")", pb.Params()...)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	row, err := QueryRow(ctx, db, "SELECT expires_at FROM tokens")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	got, ok := row["expires_at"].(time.Time)
	if !ok {
		t.Fatalf("expires_at = %T(%v), want time.Time", row["expires_at"], row["expires_at"])
	}
	if !got.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", got, want)
	}
	if time.Now().After(got) {
		t.Fatal("a token expiring in an hour must not read back as expired")
	}
}

func TestPostgresTimeParamPassesThrough(t *testing.T) {
	d := &PostgresDialect{}
	now := time.Now()
	v, ok := d.TimeParam(now).(time.Time)
	if !ok || !v.Equal(now) {
		t.Fatalf("TimeParam = %v, want the time unchanged", d.TimeParam(now))
	}
}
