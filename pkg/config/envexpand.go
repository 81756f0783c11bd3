package config

import "os"

// ExpandEnv expands environment variables in YAML content using Go's
// standard shell-style syntax ("${VAR}" or "$VAR"). Missing variables
// expand to an empty string; Validate catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
