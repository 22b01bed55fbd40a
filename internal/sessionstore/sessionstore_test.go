package sessionstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateListDelete(t *testing.T) {
	root := t.TempDir()
	store, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := store.Create("my-story", "a test session"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create("my-story", "a test session"); err != ErrSessionAlreadyExists {
		t.Fatalf("expected ErrSessionAlreadyExists, got %v", err)
	}

	path, err := store.EnvelopePath("my-story", "")
	if err != nil {
		t.Fatalf("EnvelopePath: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "my-story" {
		t.Fatalf("expected exactly one session named my-story, got %+v", infos)
	}
	if infos[0].SizeBytes != 2 {
		t.Fatalf("expected session.json size 2, got %d", infos[0].SizeBytes)
	}

	if err := store.Delete("my-story"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete("my-story"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	infos, err = store.List()
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected no sessions after delete, got %+v", infos)
	}
}

func TestValidateIDRejectsBadInput(t *testing.T) {
	cases := []string{"", "UPPER", "-leading", "trailing-", "has/slash", "has space"}
	for _, c := range cases {
		if err := ValidateID(c); err == nil {
			t.Fatalf("expected ValidateID(%q) to fail", c)
		}
	}
	if err := ValidateID("valid-id-1"); err != nil {
		t.Fatalf("expected valid-id-1 to validate, got %v", err)
	}
}

func TestEnvelopePathCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	store, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path, err := store.EnvelopePath("fresh", "a new story")
	if err != nil {
		t.Fatalf("EnvelopePath: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(root, "fresh") {
		t.Fatalf("unexpected envelope path: %s", path)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected session directory to exist: %v", err)
	}
}
