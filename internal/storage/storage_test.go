package storage

import (
	"context"
	"path/filepath"
	"testing"
)

// openFuncs lets every test run against both drivers.
var openFuncs = map[string]func(t *testing.T) Store{
	"sqlite": func(t *testing.T) Store {
		t.Helper()
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
	"badger": func(t *testing.T) Store {
		t.Helper()
		s, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
		if err != nil {
			t.Fatalf("OpenBadger: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

func TestSetGet(t *testing.T) {
	for name, open := range openFuncs {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if err := s.Set(ctx, "cache:modules", `{"items":[]}`); err != nil {
				t.Fatalf("Set: %v", err)
			}

			got, found, err := s.Get(ctx, "cache:modules")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !found {
				t.Fatal("Get: found=false for existing key")
			}
			if got != `{"items":[]}` {
				t.Errorf("Get = %q, want %q", got, `{"items":[]}`)
			}
		})
	}
}

func TestGet_AbsentKey(t *testing.T) {
	for name, open := range openFuncs {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			_, found, err := s.Get(context.Background(), "missing")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if found {
				t.Error("Get: found=true for absent key")
			}
		})
	}
}

func TestSet_Overwrites(t *testing.T) {
	for name, open := range openFuncs {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if err := s.Set(ctx, "k", "v1"); err != nil {
				t.Fatalf("first Set: %v", err)
			}
			if err := s.Set(ctx, "k", "v2"); err != nil {
				t.Fatalf("second Set: %v", err)
			}

			got, _, err := s.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got != "v2" {
				t.Errorf("Get = %q, want v2", got)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	for name, open := range openFuncs {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if err := s.Set(ctx, "k", "v"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Remove(ctx, "k"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if _, found, _ := s.Get(ctx, "k"); found {
				t.Error("key still present after Remove")
			}

			// Removing an absent key must not fail.
			if err := s.Remove(ctx, "k"); err != nil {
				t.Errorf("Remove absent key: %v", err)
			}
		})
	}
}

func TestRemoveMany(t *testing.T) {
	for name, open := range openFuncs {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			for _, k := range []string{"a", "b", "c"} {
				if err := s.Set(ctx, k, "v"); err != nil {
					t.Fatalf("Set %q: %v", k, err)
				}
			}

			if err := s.RemoveMany(ctx, []string{"a", "c", "never-existed"}); err != nil {
				t.Fatalf("RemoveMany: %v", err)
			}

			if _, found, _ := s.Get(ctx, "a"); found {
				t.Error("key a survived RemoveMany")
			}
			if _, found, _ := s.Get(ctx, "b"); !found {
				t.Error("key b was removed but not listed")
			}
			if _, found, _ := s.Get(ctx, "c"); found {
				t.Error("key c survived RemoveMany")
			}
		})
	}
}

func TestRemoveMany_Empty(t *testing.T) {
	for name, open := range openFuncs {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			if err := s.RemoveMany(context.Background(), nil); err != nil {
				t.Errorf("RemoveMany(nil): %v", err)
			}
		})
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kv.db")
		ctx := context.Background()

		s1, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("first OpenSQLite: %v", err)
		}
		if err := s1.Set(ctx, "queue:lessons", `["a"]`); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s1.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		s2, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("second OpenSQLite: %v", err)
		}
		defer func() { _ = s2.Close() }()

		got, found, err := s2.Get(ctx, "queue:lessons")
		if err != nil || !found {
			t.Fatalf("Get after reopen: value=%q found=%v err=%v", got, found, err)
		}
		if got != `["a"]` {
			t.Errorf("Get = %q, want %q", got, `["a"]`)
		}
	})

	t.Run("badger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "badger")
		ctx := context.Background()

		s1, err := OpenBadger(path)
		if err != nil {
			t.Fatalf("first OpenBadger: %v", err)
		}
		if err := s1.Set(ctx, "queue:lessons", `["a"]`); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s1.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		s2, err := OpenBadger(path)
		if err != nil {
			t.Fatalf("second OpenBadger: %v", err)
		}
		defer func() { _ = s2.Close() }()

		got, found, err := s2.Get(ctx, "queue:lessons")
		if err != nil || !found {
			t.Fatalf("Get after reopen: value=%q found=%v err=%v", got, found, err)
		}
		if got != `["a"]` {
			t.Errorf("Get = %q, want %q", got, `["a"]`)
		}
	})
}

func TestOpen_DriverSelection(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(DriverSQLite, filepath.Join(dir, "kv.db"))
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	_ = s.Close()

	s, err = Open("", filepath.Join(dir, "kv2.db"))
	if err != nil {
		t.Fatalf("Open(default): %v", err)
	}
	_ = s.Close()

	if _, err := Open("leveldb", filepath.Join(dir, "x")); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath("state.db")
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
}
