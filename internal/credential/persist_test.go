package credential

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ryosukesatoh/news-digest/internal/config"
)

func exercisePersister(t *testing.T, p Persister) {
	t.Helper()

	if _, err := p.Read(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on empty store, got: %v", err)
	}

	if err := p.Write([]byte(`{"access_token":"a1"}`)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := p.Write([]byte(`{"access_token":"a2"}`)); err != nil {
		t.Fatalf("second Write returned error: %v", err)
	}
	data, err := p.Read()
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if string(data) != `{"access_token":"a2"}` {
		t.Errorf("Expected latest record, got %q", data)
	}

	if err := p.Remove(); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := p.Read(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after remove, got: %v", err)
	}
	if err := p.Remove(); err != nil {
		t.Errorf("Remove on empty store returned error: %v", err)
	}
}

func TestFilePersister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	exercisePersister(t, NewFilePersister(path))
}

func TestFilePersisterPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := filepath.Join(t.TempDir(), "news-digest")
	path := filepath.Join(dir, "token.json")
	p := NewFilePersister(path)

	if err := p.Write([]byte("secret")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected file mode 0600, got %o", perm)
	}
	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("Expected dir mode 0700, got %o", perm)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the token file, found %d entries", len(entries))
	}
}

func TestSQLitePersister(t *testing.T) {
	p, err := OpenSQLitePersister(filepath.Join(t.TempDir(), "credentials.db"))
	if err != nil {
		t.Fatalf("OpenSQLitePersister returned error: %v", err)
	}
	defer p.Close()

	exercisePersister(t, p)
}

func TestSQLitePersisterSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	p, err := OpenSQLitePersister(path)
	if err != nil {
		t.Fatalf("OpenSQLitePersister returned error: %v", err)
	}
	if err := p.Write([]byte("record")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	p.Close()

	p, err = OpenSQLitePersister(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer p.Close()

	data, err := p.Read()
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if string(data) != "record" {
		t.Errorf("Expected record after reopen, got %q", data)
	}
}

func testKey(b byte) *[32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return &k
}

func TestSealedPersister(t *testing.T) {
	inner := &memPersister{}
	exercisePersister(t, NewSealedPersister(inner, testKey(1)))

	p := NewSealedPersister(inner, testKey(1))
	if err := p.Write([]byte(`{"access_token":"secret-token"}`)); err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(inner.data, []byte("secret-token")) {
		t.Error("Expected record to be encrypted at rest")
	}
}

func TestSealedPersisterWrongKey(t *testing.T) {
	inner := &memPersister{}
	if err := NewSealedPersister(inner, testKey(1)).Write([]byte("record")); err != nil {
		t.Fatal(err)
	}

	_, err := NewSealedPersister(inner, testKey(2)).Read()
	if !errors.Is(err, ErrStoreCorrupt) {
		t.Errorf("Expected ErrStoreCorrupt with wrong key, got: %v", err)
	}
}

func TestSealedPersisterShortRecord(t *testing.T) {
	inner := &memPersister{data: []byte("short")}
	if _, err := NewSealedPersister(inner, testKey(1)).Read(); !errors.Is(err, ErrStoreCorrupt) {
		t.Errorf("Expected ErrStoreCorrupt, got: %v", err)
	}
}

func TestOpenPersister(t *testing.T) {
	dir := t.TempDir()

	p, err := OpenPersister(config.CredentialConfig{Backend: "file", Path: filepath.Join(dir, "token.json")})
	if err != nil {
		t.Fatalf("OpenPersister returned error: %v", err)
	}
	if _, ok := p.(*FilePersister); !ok {
		t.Errorf("Expected *FilePersister, got %T", p)
	}

	p, err = OpenPersister(config.CredentialConfig{
		Backend:       "sqlite",
		Path:          filepath.Join(dir, "credentials.db"),
		EncryptionKey: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
	})
	if err != nil {
		t.Fatalf("OpenPersister returned error: %v", err)
	}
	sealed, ok := p.(*SealedPersister)
	if !ok {
		t.Fatalf("Expected *SealedPersister, got %T", p)
	}
	sealed.Close()

	if _, err := OpenPersister(config.CredentialConfig{Backend: "etcd"}); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Expected ErrUnsupportedBackend, got: %v", err)
	}
}
