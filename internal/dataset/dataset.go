// Package dataset provides the read-only user records served by the
// search endpoint.
package dataset

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"searchflight/internal/core"
)

//go:embed users.json
var defaultUsers []byte

// Dataset is an ordered, immutable sequence of users. It is safe for
// concurrent use because nothing mutates it after construction.
type Dataset struct {
	name  string
	users []core.User
}

// New creates a dataset from users. The slice is copied.
func New(name string, users []core.User) *Dataset {
	cp := make([]core.User, len(users))
	copy(cp, users)
	return &Dataset{name: name, users: cp}
}

// Default returns the embedded mock dataset.
func Default() (*Dataset, error) {
	users, err := decode(defaultUsers)
	if err != nil {
		return nil, fmt.Errorf("decoding embedded users: %w", err)
	}
	return New("default", users), nil
}

// LoadFile loads a JSON array of users from path.
func LoadFile(path string) (*Dataset, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" {
		return nil, fmt.Errorf("unsupported file format %q (use .json)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	users, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if len(users) == 0 {
		return nil, fmt.Errorf("data file %s is empty", path)
	}

	return New(filepath.Base(path), users), nil
}

// decode parses a JSON array of users and rejects duplicate IDs.
func decode(data []byte) ([]core.User, error) {
	var users []core.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("JSON must be an array of users: %w", err)
	}

	seen := make(map[int]struct{}, len(users))
	var errs []error
	for _, u := range users {
		if _, dup := seen[u.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate user id %d", u.ID))
			continue
		}
		seen[u.ID] = struct{}{}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return users, nil
}

// Name returns the dataset name.
func (d *Dataset) Name() string {
	return d.name
}

// Len returns the number of users.
func (d *Dataset) Len() int {
	return len(d.users)
}

// Users returns a copy of all users in dataset order.
func (d *Dataset) Users() []core.User {
	return d.Filter(func(core.User) bool { return true })
}

// Filter returns the users matching pred, preserving dataset order.
func (d *Dataset) Filter(pred func(core.User) bool) []core.User {
	out := make([]core.User, 0)
	for _, u := range d.users {
		if pred(u) {
			out = append(out, u)
		}
	}
	return out
}

// Search returns users whose first name, last name or email contains the
// trimmed query, ignoring case. There is no ranking.
func (d *Dataset) Search(query string) []core.User {
	q := strings.ToLower(strings.TrimSpace(query))
	return d.Filter(func(u core.User) bool {
		return strings.Contains(strings.ToLower(u.FirstName), q) ||
			strings.Contains(strings.ToLower(u.LastName), q) ||
			strings.Contains(strings.ToLower(u.Email), q)
	})
}
