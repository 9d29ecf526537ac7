// Package main hosts the workshop CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration and the fleet inventory once,
// then hands off to the internal packages: run drives a manifest across the
// fleet, plan previews the slot assignment, fleet inspects and imports
// workers, status reads the run history, and config scaffolds settings.
//
// Keep this package lean. New behavior belongs in internal packages first and
// is surfaced here through commands or flags.
package main
