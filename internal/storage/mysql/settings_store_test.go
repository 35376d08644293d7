package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	xerrors "VizBridge/internal/errors"
)

const (
	selectSettings = `SELECT setting_key, setting_value FROM extension_settings WHERE namespace = ?`
	deleteSettings = `DELETE FROM extension_settings WHERE namespace = ?`
	insertSetting  = `INSERT INTO extension_settings (namespace, setting_key, setting_value, updated_at) VALUES (?, ?, ?, ?)`
)

func TestSettingsStoreLoad(t *testing.T) {
	db, drv := newScriptDB(t,
		query(selectSettings, "setting_key", "setting_value").returning(
			[]driver.Value{"color", `"red"`},
			[]driver.Value{"limit", "10"},
		),
	)
	defer drv.done(t)

	got, err := NewSettingsStore(db, "").Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got["color"] != `"red"` || got["limit"] != "10" {
		t.Fatalf("unexpected settings %v", got)
	}
}

func TestSettingsStoreLoadEmptyReturnsNil(t *testing.T) {
	db, drv := newScriptDB(t, query(selectSettings, "setting_key", "setting_value"))
	defer drv.done(t)

	got, err := NewSettingsStore(db, "ext").Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil map, got %v", got)
	}
}

func TestSettingsStoreStoreReplacesSnapshot(t *testing.T) {
	db, drv := newScriptDB(t,
		begin(),
		exec(deleteSettings),
		exec(insertSetting),
		exec(insertSetting),
		commit(),
	)
	defer drv.done(t)

	store := NewSettingsStore(db, "ext")
	store.now = func() time.Time { return time.Unix(1700000000, 0) }
	if err := store.Store(context.Background(), map[string]string{"b": "2", "a": "1"}); err != nil {
		t.Fatalf("store: %v", err)
	}

	args := drv.execArgs()
	if len(args) != 3 || args[0][0] != "ext" {
		t.Fatalf("unexpected exec args %v", args)
	}
	if args[1][1] != "a" || args[2][1] != "b" || args[1][3] != int64(1700000000) {
		t.Fatalf("inserts must be key-ordered with a fixed timestamp: %v", args[1:])
	}
}

func TestSettingsStoreStoreRollsBackOnFailure(t *testing.T) {
	db, drv := newScriptDB(t,
		begin(),
		exec(deleteSettings),
		exec(insertSetting).failing(errors.New("disk full")),
		rollback(),
	)
	defer drv.done(t)

	err := NewSettingsStore(db, "").Store(context.Background(), map[string]string{"k": "1"})
	if !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestMigrateAppliesPendingVersions(t *testing.T) {
	pending, err := loadMigrations(embeddedMigrations)
	if err != nil || len(pending) == 0 {
		t.Fatalf("load migrations: %v (%d)", err, len(pending))
	}
	if pending[0].version != "0001" {
		t.Fatalf("unexpected version %q", pending[0].version)
	}

	steps := []step{
		exec(createMigrationsTable),
		query(`SELECT version FROM schema_migrations`, "version"),
		begin(),
	}
	for _, stmt := range pending[0].statements {
		steps = append(steps, exec(stmt))
	}
	steps = append(steps, exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), commit())

	db, drv := newScriptDB(t, steps...)
	defer drv.done(t)
	if err := migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	db, drv := newScriptDB(t,
		exec(createMigrationsTable),
		query(`SELECT version FROM schema_migrations`, "version").returning([]driver.Value{"0001"}),
	)
	defer drv.done(t)
	if err := migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestVersionOf(t *testing.T) {
	for name, want := range map[string]string{
		"0001_extension_settings.sql": "0001",
		"0002.sql":                    "0002",
		"plain":                       "plain",
	} {
		if got := versionOf(name); got != want {
			t.Fatalf("versionOf(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestNormalizeDSNFillsDefaults(t *testing.T) {
	mc, err := normalizeDSN("bridge:secret@tcp(db:3306)/vizbridge")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if mc.Addr != "db:3306" || mc.DBName != "vizbridge" || mc.User != "bridge" {
		t.Fatalf("unexpected parse result %+v", mc)
	}
	if mc.Timeout != defaultDialTimeout || mc.ReadTimeout != defaultIOTimeout || mc.WriteTimeout != defaultIOTimeout {
		t.Fatalf("defaults not applied: %s %s %s", mc.Timeout, mc.ReadTimeout, mc.WriteTimeout)
	}

	mc, err = normalizeDSN("bridge@tcp(db:3306)/vizbridge?timeout=1s&readTimeout=2s")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if mc.Timeout != time.Second || mc.ReadTimeout != 2*time.Second || mc.WriteTimeout != defaultIOTimeout {
		t.Fatalf("explicit values must win: %s %s %s", mc.Timeout, mc.ReadTimeout, mc.WriteTimeout)
	}

	for _, dsn := range []string{"", "  ", "not a dsn"} {
		if _, err := normalizeDSN(dsn); err == nil {
			t.Fatalf("expected error for %q", dsn)
		}
	}
}
