package secret

import (
	"fmt"
	"os"
	"strings"
)

// ErrEmptyFilePath is returned when NAME_FILE is set to an empty string.
// This is distinct from NAME_FILE being unset entirely.
type ErrEmptyFilePath struct {
	Var string
}

func (e *ErrEmptyFilePath) Error() string {
	return fmt.Sprintf("%s_FILE is set but empty", e.Var)
}

// LoadEnv resolves a secret value using the NAME/NAME_FILE convention shared
// across Loom's services: NAME_FILE, if set, names a file whose contents
// (minus a single trailing newline) become the value; NAME_FILE set to the
// empty string is an error, not treated as unset. Failing that, NAME is used
// directly. If neither is set, ok is false and err is nil.
func LoadEnv(name string) (value Secret[string], ok bool, err error) {
	fileVar := name + "_FILE"
	if path, isSet := os.LookupEnv(fileVar); isSet {
		if path == "" {
			return Secret[string]{}, false, &ErrEmptyFilePath{Var: name}
		}
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return Secret[string]{}, false, fmt.Errorf("read %s: %w", fileVar, readErr)
		}
		return New(strings.TrimSuffix(string(raw), "\n")), true, nil
	}

	if raw, isSet := os.LookupEnv(name); isSet {
		return New(raw), true, nil
	}

	return Secret[string]{}, false, nil
}

// RequireEnv is LoadEnv but treats "unset" as an error too.
func RequireEnv(name string) (Secret[string], error) {
	value, ok, err := LoadEnv(name)
	if err != nil {
		return Secret[string]{}, err
	}
	if !ok {
		return Secret[string]{}, fmt.Errorf("required environment variable %s (or %s_FILE) is not set", name, name)
	}
	return value, nil
}
