package config

import (
	"os"
	"strings"
)

// EnvironmentExpander expands ${VAR} placeholders in raw configuration bytes.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders from the process environment.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates and returns a new instance of OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand replaces ${VAR}, ${VAR:-default} and $VAR with their environment values. Unset
// variables without a default become empty.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	return []byte(os.Expand(string(input), lookupWithDefault)), nil
}

func lookupWithDefault(name string) string {
	key, fallback, hasDefault := strings.Cut(name, ":-")
	if v, ok := os.LookupEnv(key); ok && (v != "" || !hasDefault) {
		return v
	}
	return fallback
}

var _ EnvironmentExpander = (*OsEnvironmentExpander)(nil)
