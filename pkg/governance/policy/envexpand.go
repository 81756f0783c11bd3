package policy

import "os"

// ExpandEnv expands ${VAR} / $VAR references in raw YAML using the
// standard library. Missing variables expand to empty string; Load's
// validation step is expected to catch required fields left empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
