// Package fleet describes the worker machines a run distributes jobs across.
//
// The inventory is read once at start from a YAML file whose list order
// defines slot indices. Config is the immutable fleet description handed to
// the workflow manager and to every worker session; nothing in it changes for
// the lifetime of a run. Creating and tearing down the machines themselves is
// outside this package: it only consumes a list of reachable endpoints.
package fleet
