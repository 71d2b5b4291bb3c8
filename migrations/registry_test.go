package migrations

import (
	"context"
	"io/fs"
	"testing"
)

func TestFilesystems_ResolvesBothDialects(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected postgres and sqlite filesystems, got %d", len(filesystems))
	}
	for _, spec := range filesystems {
		matches, err := fs.Glob(spec.FS, "*.up.sql")
		if err != nil {
			t.Fatalf("glob %s: %v", spec.Dialect, err)
		}
		if len(matches) == 0 {
			t.Fatalf("dialect %s has no up migrations", spec.Dialect)
		}
	}
}

func TestRegister_OnlyTargetsSelectedDialects(t *testing.T) {
	var registered []string
	reg, err := Register(context.Background(),
		func(_ context.Context, dialect string, label string, fsys fs.FS) error {
			if label != "go-vault-bridge" {
				t.Fatalf("unexpected source label %q", label)
			}
			if fsys == nil {
				t.Fatalf("nil filesystem for %s", dialect)
			}
			registered = append(registered, dialect)
			return nil
		},
		WithValidationTargets(DialectSQLite),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(registered) != 1 || registered[0] != DialectSQLite {
		t.Fatalf("expected only sqlite registration, got %v", registered)
	}
	if len(reg.Filesystems) != 2 {
		t.Fatalf("registration must still describe both filesystems")
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil register function")
	}
}
