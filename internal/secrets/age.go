package secrets

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/subosito/gotenv"
)

// AgeStore serves values from an age-encrypted dotenv file. The file is
// decrypted once at load; plaintext only lives in the parsed map.
type AgeStore struct {
	values gotenv.Env
}

// LoadAgeFile decrypts path with the identities in identityPath and parses
// the plaintext as dotenv. Both binary and ASCII-armored files are accepted.
func LoadAgeFile(path, identityPath string) (*AgeStore, error) {
	if identityPath == "" {
		return nil, fmt.Errorf("an identity file is required to decrypt %s", path)
	}

	idFile, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity file: %w", err)
	}
	defer idFile.Close()

	identities, err := age.ParseIdentities(idFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity file %s: %w", identityPath, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return decryptDotenv(f, identities...)
}

func decryptDotenv(src io.Reader, identities ...age.Identity) (*AgeStore, error) {
	br := bufio.NewReader(src)
	var in io.Reader = br
	if head, _ := br.Peek(len(armor.Header)); string(head) == armor.Header {
		in = armor.NewReader(br)
	}

	plain, err := age.Decrypt(in, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	values, err := gotenv.StrictParse(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing decrypted dotenv: %w", err)
	}
	return &AgeStore{values: values}, nil
}

// Get implements Store.
func (a *AgeStore) Get(key string) (string, error) {
	if v, ok := a.values[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

// GenerateIdentity creates a new X25519 identity and returns it in
// AGE-SECRET-KEY-1... form together with its age1... recipient.
func GenerateIdentity() (identity, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating age identity: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

// Seal encrypts plaintext (a dotenv document) to the given age1...
// recipients. The plaintext is parsed first so a sealed file is always
// readable by LoadAgeFile.
func Seal(dst io.Writer, plaintext []byte, recipientKeys []string, armored bool) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	if _, err := gotenv.StrictParse(bytes.NewReader(plaintext)); err != nil {
		return fmt.Errorf("plaintext is not valid dotenv: %w", err)
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}

	out := dst
	var armorWriter io.WriteCloser
	if armored {
		armorWriter = armor.NewWriter(dst)
		out = armorWriter
	}

	w, err := age.Encrypt(out, recipients...)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	if armorWriter != nil {
		if err := armorWriter.Close(); err != nil {
			return fmt.Errorf("finalizing armor: %w", err)
		}
	}
	return nil
}
