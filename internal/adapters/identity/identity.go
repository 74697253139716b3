// Package identity resolves API keys to competition participants.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/okian/holdout/internal/domain/model"
)

var (
	ErrDuplicateKey = errors.New("api key assigned to more than one user")
	ErrEmptyKey     = errors.New("empty api key")
)

// Provider is the identity source used by the request layer.
type Provider interface {
	IsValid(credential string) bool
	Resolve(credential string) (model.Participant, bool)
}

// Option configures a KeyFile.
type Option func(*KeyFile)

// WithAdmin marks userID as the administrator.
func WithAdmin(userID string) Option {
	return func(k *KeyFile) { k.admin = userID }
}

// WithBaseline marks userID as the baseline participant.
func WithBaseline(userID string) Option {
	return func(k *KeyFile) { k.baseline = userID }
}

// KeyFile maps API keys to users from a JSON object {"user_id": "api_key"}.
// It is immutable after construction.
type KeyFile struct {
	byKey    map[string]string
	admin    string
	baseline string
}

// New builds a provider from a user -> key mapping.
func New(mapping map[string]string, opts ...Option) (*KeyFile, error) {
	k := &KeyFile{byKey: make(map[string]string, len(mapping))}
	for _, opt := range opts {
		opt(k)
	}
	for user, key := range mapping {
		if key == "" {
			return nil, fmt.Errorf("%w for user %q", ErrEmptyKey, user)
		}
		if other, dup := k.byKey[key]; dup {
			return nil, fmt.Errorf("%w: %q and %q", ErrDuplicateKey, other, user)
		}
		k.byKey[key] = user
	}
	return k, nil
}

// Load reads the mapping file at path.
func Load(path string, opts ...Option) (*KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api keys %s: %w", path, err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parse api keys %s: %w", path, err)
	}
	return New(mapping, opts...)
}

// IsValid reports whether credential belongs to a known user.
func (k *KeyFile) IsValid(credential string) bool {
	_, ok := k.byKey[credential]
	return ok
}

// Resolve returns the participant owning credential with its role.
func (k *KeyFile) Resolve(credential string) (model.Participant, bool) {
	user, ok := k.byKey[credential]
	if !ok {
		return model.Participant{}, false
	}
	return model.Participant{UserID: user, Role: k.role(user)}, true
}

func (k *KeyFile) role(user string) model.Role {
	switch {
	case k.admin != "" && user == k.admin:
		return model.RoleAdministrator
	case k.baseline != "" && user == k.baseline:
		return model.RoleBaseline
	default:
		return model.RoleRegular
	}
}

// Users returns the number of known users.
func (k *KeyFile) Users() int { return len(k.byKey) }
