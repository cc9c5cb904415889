package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		pinnedVersionsPolicy(),
		offlineReleasesPolicy(),
		completionsShellPolicy(),
		batchRemovalPolicy(),
		productionLatestPolicy(),
	}
}

// pinnedVersionsPolicy warns about tools installed without a version spec.
func pinnedVersionsPolicy() Policy {
	return Policy{
		Name:        "pinned-versions",
		Description: "Warns when a managed tool floats to the latest release instead of pinning a version spec",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"tools", "versioning"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package uvfleet.policies.pinning

import rego.v1

# System-wide tools without a version spec
deny contains violation if {
	input.resolution
	some name, spec in input.resolution.config.tools
	not spec.absent
	not spec.version_spec
	violation := {
		"message": sprintf("System tool %s has no version spec and will float to latest", [name]),
		"severity": "warning",
		"tool": name,
		"remediation": "Pin the tool with a version_spec such as \">=1.0,<2\"",
	}
}

# Per-user tools without a version spec
deny contains violation if {
	input.resolution
	some user in input.resolution.users
	some name, spec in user.uv.tools
	not spec.absent
	not spec.version_spec
	violation := {
		"message": sprintf("Tool %s for user %s has no version spec and will float to latest", [name, user.name]),
		"severity": "warning",
		"user": user.name,
		"tool": name,
		"remediation": "Pin the tool with a version_spec such as \">=1.0,<2\"",
	}
}`,
	}
}

// offlineReleasesPolicy blocks release-archive installs when uv is
// configured to run offline.
func offlineReleasesPolicy() Policy {
	return Policy{
		Name:        "offline-releases",
		Description: "Blocks the release-archive install method when the global uv configuration forces offline mode",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"install", "network"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package uvfleet.policies.offline

import rego.v1

deny contains violation if {
	input.resolution
	config := input.resolution.config
	config.install_method == "releases"
	config.config.offline == true
	violation := {
		"message": "install_method 'releases' cannot download archives while uv is configured offline",
		"severity": "error",
		"remediation": "Switch install_method to 'pkg' or drop 'offline' from the global uv config",
	}
}`,
	}
}

// completionsShellPolicy warns about users who request completions without
// a known shell.
func completionsShellPolicy() Policy {
	return Policy{
		Name:        "completions-shell",
		Description: "Warns when a user requests shell completions but declares no login shell",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"users", "completions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package uvfleet.policies.completions

import rego.v1

deny contains violation if {
	input.resolution
	some user in input.resolution.users
	user.completions != ""
	not user.shell
	violation := {
		"message": sprintf("User %s requests completions but declares no shell; the item will be skipped", [user.name]),
		"severity": "warning",
		"user": user.name,
		"remediation": "Set the user's shell, or drop the completions directory",
	}
}`,
	}
}

// batchRemovalPolicy warns about plans removing many tools at once.
func batchRemovalPolicy() Policy {
	return Policy{
		Name:        "batch-removal",
		Description: "Warns when a single plan removes many tools at once",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"plans", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package uvfleet.policies.removal

import rego.v1

max_removals := 5

deny contains violation if {
	input.plan
	removals := count([item |
		some item in input.plan.items
		item.kind == "tool-remove"
	])
	removals > max_removals
	violation := {
		"message": sprintf("Plan removes %d tools - please review carefully", [removals]),
		"severity": "warning",
	}
}`,
	}
}

// productionLatestPolicy blocks floating uv versions in production.
func productionLatestPolicy() Policy {
	return Policy{
		Name:        "production-latest",
		Description: "Blocks an unpinned uv version on production machines",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"install", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package uvfleet.policies.production

import rego.v1

deny contains violation if {
	input.resolution
	input.context.environment == "production"
	input.resolution.config.version == "latest"
	violation := {
		"message": "uv version 'latest' is not allowed on production machines",
		"severity": "error",
		"remediation": "Pin a concrete uv version in the defaults or a parameter overlay",
	}
}`,
	}
}
