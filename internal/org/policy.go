// Package org holds per-organization publishing policy and the Gateway
// orchestrator that drives the full publish and delete flows against the
// registry, the build system, and the release policy gate.
package org

import (
	"github.com/manifest-gateway/manifest-gateway/internal/transform"
)

// Policy is the publishing policy of one registry organization. The zero
// value is the policy applied to organizations not present in configuration:
// private, no credentials, no rewrites.
type Policy struct {
	// Public marks repositories in this organization for public visibility
	// after a successful push. Flipping visibility needs OAuthToken.
	Public bool `mapstructure:"public" yaml:"public"`

	// OAuthToken is the registry OAuth credential used for the visibility
	// API, which does not accept the per-request push token.
	OAuthToken string `mapstructure:"oauth_token" yaml:"oauth_token"`

	// ReplaceRegistry rewrites container registry references in manifests
	// before they are pushed, in listed order.
	ReplaceRegistry []transform.RegistryRule `mapstructure:"replace_registry" yaml:"replace_registry"`

	// RepoNameSuffix is appended to the repository and package name unless
	// already present.
	RepoNameSuffix string `mapstructure:"repo_name_suffix" yaml:"repo_name_suffix"`

	// CSVAnnotations are injected into every ClusterServiceVersion document.
	CSVAnnotations []transform.AnnotationRule `mapstructure:"csv_annotations" yaml:"csv_annotations"`
}

// Table resolves organization names to policies. It is immutable after
// construction and safe for concurrent use.
type Table struct {
	policies map[string]Policy
}

// NewTable copies the supplied policies into a lookup table.
func NewTable(policies map[string]Policy) *Table {
	copied := make(map[string]Policy, len(policies))
	for name, p := range policies {
		copied[name] = p
	}
	return &Table{policies: copied}
}

// Resolve returns the policy for the named organization. Unknown
// organizations get the zero Policy so pushes to unconfigured organizations
// still work, just without rewrites or visibility changes.
func (t *Table) Resolve(name string) Policy {
	return t.policies[name]
}

// Known reports whether the organization is explicitly configured.
func (t *Table) Known(name string) bool {
	_, ok := t.policies[name]
	return ok
}
