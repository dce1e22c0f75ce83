package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, _, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("schema reported dirty")
	}
}

func TestStateRoundTrip(t *testing.T) {
	db := testDB(t)

	got, err := db.LoadState("token")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("absent key = %q, want nil", got)
	}

	if err := db.SaveState("token", []byte(`"abc"`)); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveState("token", []byte(`"def"`)); err != nil {
		t.Fatal(err)
	}
	got, err = db.LoadState("token")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `"def"` {
		t.Errorf("LoadState = %q, want \"def\"", got)
	}

	if err := db.DeleteState("token"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteState("token"); err != nil {
		t.Errorf("deleting an absent key: %v", err)
	}
	got, err = db.LoadState("token")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("after delete = %q, want nil", got)
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	db, _, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SaveState("user", []byte(`{"_id":"u1"}`)); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, result, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if result.Changed {
		t.Error("reopen should not re-apply migrations")
	}
	got, err := db.LoadState("user")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"_id":"u1"}` {
		t.Errorf("LoadState = %q", got)
	}
}

func TestOutboxJournal(t *testing.T) {
	db := testDB(t)
	created := time.UnixMilli(1_700_000_000_000)

	if err := db.JournalSend("l1", "c1", "u1", "hello", created); err != nil {
		t.Fatal(err)
	}
	if err := db.JournalSend("l2", "c1", "u1", "again", created.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	pending, err := db.ListOutbox(OutboxPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].LocalID != "l2" {
		t.Errorf("newest first: got %q, want l2", pending[0].LocalID)
	}

	if err := db.MarkOutboxSent("l1", "srv-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("l2", "network down"); err != nil {
		t.Fatal(err)
	}

	failed, err := db.ListOutbox(OutboxFailed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "network down" {
		t.Fatalf("failed = %+v", failed)
	}
	if !failed[0].CreatedAt.Equal(created.Add(time.Second)) {
		t.Errorf("CreatedAt = %v", failed[0].CreatedAt)
	}

	all, err := db.ListOutbox("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("got %d entries, want 2", len(all))
	}
	for _, e := range all {
		if e.LocalID == "l1" && (e.Status != OutboxSent || e.ServerMsgID != "srv-1") {
			t.Errorf("l1 = %+v, want sent with srv-1", e)
		}
	}
}

func TestJournalSendRejectsDuplicateLocalID(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	if err := db.JournalSend("dup", "c1", "u1", "a", now); err != nil {
		t.Fatal(err)
	}
	if err := db.JournalSend("dup", "c1", "u1", "b", now); err == nil {
		t.Error("expected unique constraint error for duplicate local id")
	}
}
