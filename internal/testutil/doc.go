// Package testutil provides testing utilities, mock implementations, and test
// fixtures for the authorization server. It includes helpers for creating test
// data, assertions, and mock time providers for deterministic testing.
package testutil
