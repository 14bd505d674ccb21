package tasks

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/task"
)

const (
	htaccessBegin = "# batch-action ProtectDirectory BEGIN"
	htaccessEnd   = "# batch-action ProtectDirectory END"

	// CredentialsRoot is the sandbox key clear-text passwords are stored
	// under, one entry per user.
	CredentialsRoot = "htpasswd"

	passwordLength  = 16
	passwordSymbols = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%^&*-_=+"
)

// ProtectDirectory protects a directory with HTTP basic auth. It upserts a
// bcrypt entry per user in the .htpasswd file and writes a marked block into
// the directory's .htaccess file, replacing the block if it is already
// there. Users without a password get a generated one.
//
// Clear-text passwords are stored in the sandbox at /htpasswd/<user> and
// never leave the process through the outcome. The outcome payload is the
// sorted list of user names.
type ProtectDirectory struct {
	dir      string
	users    map[string]string
	htpasswd string
	authName string
	cost     int
}

// ProtectDirectoryOption configures a ProtectDirectory.
type ProtectDirectoryOption func(*ProtectDirectory)

// WithHtpasswdPath sets the .htpasswd location. The default is inside the
// protected directory.
func WithHtpasswdPath(path string) ProtectDirectoryOption {
	return func(a *ProtectDirectory) {
		a.htpasswd = path
	}
}

// WithAuthName sets the realm shown by browsers. The default is "Protected".
func WithAuthName(name string) ProtectDirectoryOption {
	return func(a *ProtectDirectory) {
		a.authName = name
	}
}

// WithBcryptCost sets the bcrypt cost.
func WithBcryptCost(cost int) ProtectDirectoryOption {
	return func(a *ProtectDirectory) {
		a.cost = cost
	}
}

// NewProtectDirectory creates the action. users maps names to passwords; an
// empty password is generated. A nil or empty map means a single "admin"
// user.
func NewProtectDirectory(dir string, users map[string]string, opts ...ProtectDirectoryOption) (*ProtectDirectory, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: expected a non-empty directory path", task.ErrParameterMismatch)
	}
	if len(users) == 0 {
		users = map[string]string{"admin": ""}
	}
	for name := range users {
		if name == "" || strings.ContainsAny(name, ":\n") {
			return nil, fmt.Errorf("%w: invalid user name %q", task.ErrParameterMismatch, name)
		}
	}

	a := &ProtectDirectory{
		dir:      dir,
		users:    users,
		authName: "Protected",
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.htpasswd == "" {
		a.htpasswd = filepath.Join(dir, ".htpasswd")
	}
	return a, nil
}

// Act implements task.Action.
func (a *ProtectDirectory) Act(ctx context.Context, sb *sandbox.Sandbox) (task.Outcome, error) {
	info, err := os.Stat(a.dir)
	if err != nil || !info.IsDir() {
		return task.Outcome{}, task.Errorf(task.ErrFileNotFound, "ProtectDirectory", "directory `%s` does not exist", a.dir)
	}

	users := make(map[string]string, len(a.users))
	for name, password := range a.users {
		if password == "" {
			if password, err = GeneratePassword(passwordLength); err != nil {
				return task.Outcome{}, err
			}
		}
		users[name] = password
	}

	if err := a.writeHtpasswd(users); err != nil {
		return task.Outcome{}, err
	}
	htaccess, err := a.writeHtaccess()
	if err != nil {
		return task.Outcome{}, err
	}

	names := make([]string, 0, len(users))
	for name, password := range users {
		if err := sb.Set(sandbox.Path{CredentialsRoot, name}, password); err != nil {
			return task.Outcome{}, err
		}
		names = append(names, name)
	}
	slices.Sort(names)

	return task.Succeeded(
		"ProtectDirectory",
		"Directory secured with HTTP Auth",
		fmt.Sprintf("`%s` has been secured using HTTP Auth by `%s`. The .htpasswd file was stored at `%s`.", a.dir, htaccess, a.htpasswd),
		names,
	), nil
}

// writeHtpasswd replaces the line of each user, or appends one.
func (a *ProtectDirectory) writeHtpasswd(users map[string]string) error {
	existing, err := os.ReadFile(a.htpasswd)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", a.htpasswd, err)
	}

	var lines []string
	if len(existing) > 0 {
		lines = strings.Split(strings.TrimRight(string(existing), "\n"), "\n")
	}

	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		hash, err := bcrypt.GenerateFromPassword([]byte(users[name]), a.cost)
		if err != nil {
			return fmt.Errorf("hashing password for %s: %w", name, err)
		}
		entry := name + ":" + string(hash)
		i := slices.IndexFunc(lines, func(l string) bool { return strings.HasPrefix(l, name+":") })
		if i >= 0 {
			lines[i] = entry
		} else {
			lines = append(lines, entry)
		}
	}

	if err := os.WriteFile(a.htpasswd, []byte(strings.Join(lines, "\n")+"\n"), 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", a.htpasswd, err)
	}
	if _, err := os.Stat(a.htpasswd); err != nil {
		return task.Errorf(task.ErrFileNotFound, "ProtectDirectory", ".htpasswd file not found at `%s`", a.htpasswd)
	}
	return nil
}

// writeHtaccess writes the auth block and returns the .htaccess path.
func (a *ProtectDirectory) writeHtaccess() (string, error) {
	path := filepath.Join(a.dir, ".htaccess")
	block := a.htaccessBlock()

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	content := ReplaceBlock(string(existing), htaccessBegin, htaccessEnd, block)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", task.Errorf(task.ErrFileNotFound, "ProtectDirectory", ".htaccess file not found at `%s`", path)
	}
	return path, nil
}

func (a *ProtectDirectory) htaccessBlock() string {
	var b strings.Builder
	b.WriteString(htaccessBegin + "\n\n")
	b.WriteString("<FilesMatch \"^\\.ht\">\n    Require all denied\n</FilesMatch>\n\n")
	b.WriteString("AuthType Basic\n")
	fmt.Fprintf(&b, "AuthName %q\n", a.authName)
	fmt.Fprintf(&b, "AuthUserFile %s\n", a.htpasswd)
	b.WriteString("Require valid-user\n\n")
	b.WriteString(htaccessEnd + "\n")
	return b.String()
}

// ReplaceBlock replaces the text from the begin line through the end line
// with block, or appends block when content has no such section.
func ReplaceBlock(content, begin, end, block string) string {
	start := strings.Index(content, begin)
	if start >= 0 {
		if rel := strings.Index(content[start:], end); rel >= 0 {
			stop := start + rel + len(end)
			if stop < len(content) && content[stop] == '\n' {
				stop++
			}
			return content[:start] + block + content[stop:]
		}
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + block
}

// GeneratePassword returns n characters drawn from crypto/rand.
func GeneratePassword(n int) (string, error) {
	limit := big.NewInt(int64(len(passwordSymbols)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		buf[i] = passwordSymbols[idx.Int64()]
	}
	return string(buf), nil
}
