// Package credentials holds the session credential used by the gateway and
// loads account logins for the command line client.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the account file has overly permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("account file has insecure permissions")

// ErrNoAccount is returned when no login could be found in any location.
var ErrNoAccount = fmt.Errorf("no account credentials configured")

// Account holds the login used by taskctl.
type Account struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

type accountFile struct {
	Account Account `toml:"account"`
}

// StandardPaths returns the standard account file locations in order of priority
func StandardPaths() []string {
	paths := []string{"account.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskgate", "account.toml"))
		paths = append(paths, filepath.Join(home, ".taskgate", "account.toml"))
	}

	return paths
}

// Load loads the account from the first available standard location, falling
// back to TASKGATE_EMAIL and TASKGATE_PASSWORD.
func Load() (*Account, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			acct, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return acct, path, nil
		}
	}
	if acct := FromEnv(); acct != nil {
		return acct, "", nil
	}
	return nil, "", ErrNoAccount
}

// LoadFile loads an account from a specific file.
// Returns ErrInsecurePermissions if file is readable by group or others.
func LoadFile(path string) (*Account, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		// Account files must be 0400 (owner read-only)
		if mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var f accountFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	if f.Account.Email == "" || f.Account.Password == "" {
		return nil, fmt.Errorf("%w: %s has no [account] email/password", ErrNoAccount, path)
	}
	return &f.Account, nil
}

// FromEnv returns the account from the environment, or nil if either
// variable is unset.
func FromEnv() *Account {
	email := os.Getenv("TASKGATE_EMAIL")
	password := os.Getenv("TASKGATE_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	return &Account{Email: email, Password: password}
}
