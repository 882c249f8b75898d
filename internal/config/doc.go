// Package config loads and validates the Motor Control Node configuration.
//
// Values are layered in order: built-in defaults, an optional YAML file, then
// MCN_* environment variables. The merged result is validated once; every
// component receives its section by value at start-up and nothing reads the
// environment afterwards.
package config
