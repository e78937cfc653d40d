package credentials

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardPaths(t *testing.T) {
	paths := StandardPaths()
	require.GreaterOrEqual(t, len(paths), 2)
	assert.Equal(t, "account.toml", paths[0])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.toml")
	content := `
[account]
email = "ada@example.com"
password = "correct horse"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0400))

	acct, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", acct.Email)
	assert.Equal(t, "correct horse", acct.Password)
}

func TestLoadFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission checks are not applied on windows")
	}
	path := filepath.Join(t.TempDir(), "account.toml")
	require.NoError(t, os.WriteFile(path, []byte("[account]\nemail = \"a@b.c\"\npassword = \"x\"\n"), 0644))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrInsecurePermissions)
}

func TestLoadFile_MissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.toml")
	require.NoError(t, os.WriteFile(path, []byte("[account]\nemail = \"a@b.c\"\n"), 0400))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TASKGATE_EMAIL", "env@example.com")
	t.Setenv("TASKGATE_PASSWORD", "secret")

	acct := FromEnv()
	require.NotNil(t, acct)
	assert.Equal(t, "env@example.com", acct.Email)
	assert.Equal(t, "secret", acct.Password)

	t.Setenv("TASKGATE_PASSWORD", "")
	assert.Nil(t, FromEnv(), "FromEnv() should be nil without a password")
}

func TestCookieSession(t *testing.T) {
	sess, err := NewCookieSession()
	require.NoError(t, err)
	u, _ := url.Parse("http://127.0.0.1:8000/auth/login")

	assert.False(t, sess.Present(u), "new session should hold no credential")

	sess.SetCookies(u, []*http.Cookie{{Name: "access_token", Value: "abc", Path: "/"}})
	assert.True(t, sess.Present(u), "session should hold the cookie the server set")

	other, _ := url.Parse("http://127.0.0.1:8000/tasks")
	got := sess.Cookies(other)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].Value)

	sess.Reset()
	assert.False(t, sess.Present(u), "Reset() should discard all cookies")
}
