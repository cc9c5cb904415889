package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/uvfleet/uvfleet/pkg/formula"
	"github.com/uvfleet/uvfleet/pkg/transports/ssh"
)

// Machine is one managed machine in the fleet inventory.
type Machine struct {
	// MinionID identifies the machine in runs, stores and parameter
	// documents. Defaults to Host when empty.
	MinionID string `yaml:"minion_id" json:"minion_id"`

	// Host is the address the SSH transport connects to.
	Host string `yaml:"host" json:"host" validate:"required"`

	// Port is the SSH port; 22 when empty.
	Port int `yaml:"port,omitempty" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the SSH login user.
	User string `yaml:"user" json:"user" validate:"required"`

	// AuthMethod selects key or password authentication; key when empty.
	AuthMethod string `yaml:"auth_method,omitempty" json:"auth_method,omitempty" validate:"omitempty,oneof=key password"`

	// KeyPath is the private key for key authentication. Empty lets the
	// transport discover a default key.
	KeyPath string `yaml:"key_path,omitempty" json:"key_path,omitempty"`

	// Password is the password for password authentication.
	Password string `yaml:"password,omitempty" json:"-"`

	// SudoPassword is passed to sudo for privileged items; empty assumes
	// NOPASSWD.
	SudoPassword string `yaml:"sudo_password,omitempty" json:"-"`

	// KnownHostsPath overrides the known_hosts file used for host key
	// verification.
	KnownHostsPath string `yaml:"known_hosts,omitempty" json:"known_hosts,omitempty"`

	// InsecureHostKey disables host key verification. Test rigs only.
	InsecureHostKey bool `yaml:"insecure_host_key,omitempty" json:"insecure_host_key,omitempty"`

	// Roles are the machine's roles, in declaration order. They select
	// role parameter documents and feed the roles grain.
	Roles []string `yaml:"roles,omitempty" json:"roles,omitempty"`

	// Pillar is a per-machine pillar overlay merged over the fleet-wide
	// pillar document.
	Pillar formula.Tree `yaml:"pillar,omitempty" json:"pillar,omitempty"`
}

// ID returns the machine's minion id, falling back to its address.
func (m Machine) ID() string {
	if m.MinionID != "" {
		return m.MinionID
	}
	return m.Host
}

// TransportConfig builds the SSH transport configuration for the machine.
func (m Machine) TransportConfig() *ssh.Config {
	cfg := ssh.DefaultConfig(m.Host, m.User)
	if m.Port != 0 {
		cfg.Port = m.Port
	}
	if m.AuthMethod == "password" {
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = m.Password
	}
	if m.KeyPath != "" {
		cfg.PrivateKeyPath = m.KeyPath
	}
	if m.KnownHostsPath != "" {
		cfg.KnownHostsPath = m.KnownHostsPath
	}
	if m.InsecureHostKey {
		cfg.StrictHostKeyChecking = false
		cfg.KnownHostsPath = ""
	}
	cfg.SudoPassword = m.SudoPassword
	return cfg
}

// Inventory is the fleet's machine inventory.
type Inventory struct {
	Machines []Machine `yaml:"machines" validate:"dive"`
}

// LoadInventory reads and validates a fleet inventory document.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory parses and validates inventory YAML.
func ParseInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, NewPermanentError("malformed inventory document", err).
			WithCode(ErrCodeValidation)
	}

	if err := validator.New().Struct(&inv); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, NewPermanentError(
				fmt.Sprintf("invalid inventory: %s", verrs[0].Namespace()), err).
				WithCode(ErrCodeValidation)
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(inv.Machines))
	for _, m := range inv.Machines {
		id := m.ID()
		if _, dup := seen[id]; dup {
			return nil, NewPermanentError(
				fmt.Sprintf("duplicate machine id %q", id), nil).
				WithCode(ErrCodeValidation)
		}
		seen[id] = struct{}{}
	}

	return &inv, nil
}

// Get returns the machine with the given minion id.
func (i *Inventory) Get(minionID string) (Machine, error) {
	for _, m := range i.Machines {
		if m.ID() == minionID {
			return m, nil
		}
	}
	return Machine{}, NewPermanentError(
		fmt.Sprintf("machine not found: %s", minionID), nil).
		WithCode(ErrCodeNotFound)
}

// Select returns the machines matching a selector. "all" or an empty
// selector matches everything; "role=web" matches machines carrying the
// role; "id=web-01" matches one machine; comma-separated terms must all
// match.
func (i *Inventory) Select(selector string) []Machine {
	if selector == "" || selector == "all" {
		return append([]Machine{}, i.Machines...)
	}

	var out []Machine
	for _, m := range i.Machines {
		if matchesSelector(m, selector) {
			out = append(out, m)
		}
	}
	return out
}

// matchesSelector reports whether a machine satisfies every selector term.
func matchesSelector(m Machine, selector string) bool {
	for _, term := range strings.Split(selector, ",") {
		parts := strings.SplitN(strings.TrimSpace(term), "=", 2)
		if len(parts) != 2 {
			return false
		}
		key, value := parts[0], parts[1]
		switch key {
		case "id":
			if m.ID() != value {
				return false
			}
		case "role":
			if !hasRole(m.Roles, value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
