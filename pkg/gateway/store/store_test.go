package store

import (
	"strings"
	"testing"
	"time"
)

func TestNilStoreIsInert(t *testing.T) {
	var s *Store
	// Must not panic or block.
	s.RecordMintedSession("sess_1", "k_abc", "gpt-4o-realtime-preview", "sage")
	s.RecordRelayCall("req_1", "k_abc", 200, 40*time.Millisecond)
	s.Close()
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/0001_usage_archive.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(data)
	for _, want := range []string{
		"-- +goose Up",
		"-- +goose Down",
		"CREATE TABLE minted_sessions",
		"CREATE TABLE relay_calls",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration missing %q", want)
		}
	}
}
