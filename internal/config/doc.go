// Package config loads the chatarchive YAML configuration.
//
// Loading expands ${VAR} references from the environment, fills defaults
// for unset fields and validates the result against an embedded CUE schema.
package config
