package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	xssh "golang.org/x/crypto/ssh"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

// NewCredentials generates a fresh ed25519 login for user. The private key is
// returned in OpenSSH format and never touches disk.
func NewCredentials(user string) (*prov.Credentials, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	signer, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, "flotilla")
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return &prov.Credentials{
		User:          user,
		PrivateKey:    string(pem.EncodeToMemory(block)),
		AuthorizedKey: MarshalAuthorized(signer),
	}, nil
}

// CredentialsFor returns the credentials a node will be created with: the
// caller's public key when one is given, otherwise a generated keypair.
func CredentialsFor(user, authorizedKey string) (*prov.Credentials, error) {
	if authorizedKey == "" {
		return NewCredentials(user)
	}
	if _, _, _, _, err := xssh.ParseAuthorizedKey([]byte(authorizedKey)); err != nil {
		return nil, prov.Invalid("authorize_public_key", "", "not an authorized_keys line: %v", err)
	}
	return &prov.Credentials{User: user, AuthorizedKey: strings.TrimSpace(authorizedKey)}, nil
}

// GenerateEd25519Keypair creates an ed25519 keypair and writes the private
// key to disk in OpenSSH format without a passphrase.
func GenerateEd25519Keypair(privateKeyPath string) (publicAuthorized string, err error) {
	creds, err := NewCredentials("")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(privateKeyPath, []byte(creds.PrivateKey), 0600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}
	return creds.AuthorizedKey, nil
}

// LoadPrivateKeySigner reads an OpenSSH/PEM private key file and returns an ssh.Signer.
func LoadPrivateKeySigner(privateKeyPath string) (xssh.Signer, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// MarshalAuthorized renders the signer's public key as an authorized_keys line.
func MarshalAuthorized(signer xssh.Signer) string {
	return strings.TrimSpace(string(xssh.MarshalAuthorizedKey(signer.PublicKey())))
}
