// Package config loads, normalizes, and validates workshop configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// WORKSHOP_OPERATOR and the AWS credential variables. The Config type
// centralizes every knob the driver needs: where results and logs land, how
// workers are reached, which container images each pipeline stage runs, and
// whether results are mirrored to S3.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
