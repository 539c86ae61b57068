package ssh

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xssh "golang.org/x/crypto/ssh"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

func TestNewCredentials(t *testing.T) {
	creds, err := NewCredentials("fl")
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	if creds.User != "fl" || !strings.HasPrefix(creds.AuthorizedKey, "ssh-ed25519 ") {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	signer, err := xssh.ParsePrivateKey([]byte(creds.PrivateKey))
	if err != nil {
		t.Fatalf("private key does not parse: %v", err)
	}
	if MarshalAuthorized(signer) != creds.AuthorizedKey {
		t.Fatal("public key does not match private key")
	}
}

func TestCredentialsFor(t *testing.T) {
	gen, err := NewCredentials("")
	if err != nil {
		t.Fatal(err)
	}
	creds, err := CredentialsFor("ops", gen.AuthorizedKey+"\n")
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if creds.PrivateKey != "" || creds.AuthorizedKey != gen.AuthorizedKey || creds.User != "ops" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	if _, err := CredentialsFor("ops", "not a key"); !errors.Is(err, prov.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestGenerateEd25519Keypair(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	pub, err := GenerateEd25519Keypair(priv)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := os.Stat(priv); err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	signer, err := LoadPrivateKeySigner(priv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if MarshalAuthorized(signer) != pub {
		t.Fatalf("expected matching public key")
	}
}
