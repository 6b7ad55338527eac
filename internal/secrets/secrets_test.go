package secrets

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMapStore(t *testing.T) {
	s := MapStore{"NPS_API_KEY": "abc"}
	v, err := s.Get("NPS_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = s.Get("NASA_API_KEY")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnvStore(t *testing.T) {
	env := map[string]string{"STACK_NPS_API_KEY": "k1", "STACK_EMPTY": ""}
	s := &EnvStore{Prefix: "STACK_", lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	v, err := s.Get("NPS_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "k1", v)

	_, err = s.Get("EMPTY")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingStore struct{}

func (failingStore) Get(string) (string, error) { return "", errors.New("vault sealed") }

func TestChain(t *testing.T) {
	c := Chain{MapStore{"A": "first"}, MapStore{"A": "second", "B": "b"}}

	v, err := c.Get("A")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = c.Get("B")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = c.Get("C")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Chain{MapStore{}, failingStore{}, MapStore{"C": "never"}}.Get("C")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault sealed")
}

func TestDotenvStore(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "NPS_API_KEY=nps123\nexport NASA_API_KEY=\"nasa 456\"\n# comment\n")

	s, err := LoadDotenv(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())

	v, err := s.Get("NPS_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "nps123", v)

	v, err = s.Get("NASA_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "nasa 456", v)

	_, err = s.Get("OTHER")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDotenvStore_Malformed(t *testing.T) {
	path := writeFile(t, t.TempDir(), ".env", "this is not dotenv\n")
	_, err := LoadDotenv(path)
	assert.Error(t, err)
}

func TestSealAndLoadAgeFile(t *testing.T) {
	for _, armored := range []bool{false, true} {
		name := "binary"
		if armored {
			name = "armored"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			identity, recipient, err := GenerateIdentity()
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(recipient, "age1"))

			idPath := writeFile(t, dir, "key.txt", "# test identity\n"+identity+"\n")

			var sealed bytes.Buffer
			require.NoError(t, Seal(&sealed, []byte("NPS_API_KEY=sealed-value\n"), []string{recipient}, armored))
			assert.NotContains(t, sealed.String(), "sealed-value")
			encPath := writeFile(t, dir, ".env.age", sealed.String())

			store, err := LoadAgeFile(encPath, idPath)
			require.NoError(t, err)
			v, err := store.Get("NPS_API_KEY")
			require.NoError(t, err)
			assert.Equal(t, "sealed-value", v)
		})
	}
}

func TestLoadAgeFile_WrongIdentity(t *testing.T) {
	dir := t.TempDir()
	_, recipient, err := GenerateIdentity()
	require.NoError(t, err)
	other, _, err := GenerateIdentity()
	require.NoError(t, err)

	var sealed bytes.Buffer
	require.NoError(t, Seal(&sealed, []byte("K=v\n"), []string{recipient}, false))
	encPath := writeFile(t, dir, ".env.age", sealed.String())
	idPath := writeFile(t, dir, "key.txt", other+"\n")

	_, err = LoadAgeFile(encPath, idPath)
	assert.Error(t, err)

	_, err = LoadAgeFile(encPath, "")
	assert.Error(t, err)
}

func TestSeal_Validation(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Seal(&buf, []byte("K=v\n"), nil, false))
	assert.Error(t, Seal(&buf, []byte("K=v\n"), []string{"not-a-key"}, false))
	_, recipient, err := GenerateIdentity()
	require.NoError(t, err)
	assert.Error(t, Seal(&buf, []byte("garbage line\n"), []string{recipient}, false))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.env", "A=from-first\n")
	second := writeFile(t, dir, "second.env", "A=from-second\nB=from-second\n")

	store, err := Open(Sources{
		EnvPrefix:   "STACKCTL_TEST_UNSET_PREFIX_",
		DotenvFiles: []string{first, filepath.Join(dir, "missing.env"), second},
	})
	require.NoError(t, err)

	v, err := store.Get("A")
	require.NoError(t, err)
	assert.Equal(t, "from-first", v)
	v, err = store.Get("B")
	require.NoError(t, err)
	assert.Equal(t, "from-second", v)

	_, err = Open(Sources{AgeFile: filepath.Join(dir, "missing.age"), IdentityFile: first})
	assert.Error(t, err)
}
