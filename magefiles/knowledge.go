//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Knowledge groups knowledge base maintenance targets.
type Knowledge mg.Namespace

// Export writes the knowledge base to knowledge/index/export.yaml.
func (Knowledge) Export() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "knowledge", "export", "--format", "yaml")
}

// Verify checks that vectors and summaries agree.
func (Knowledge) Verify() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "knowledge", "verify")
}

// Repair removes orphaned and corrupt knowledge base rows.
func (Knowledge) Repair() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "knowledge", "verify", "--repair")
}
