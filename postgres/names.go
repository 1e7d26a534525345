package postgres

import "fmt"

// sanitizeName accepts plain SQL identifiers: letters, digits, and
// underscores, not starting with a digit. Names are interpolated into
// statements at construction time, so anything else is rejected outright.
func sanitizeName(name string) (string, error) {
	if name == "" {
		return "", ErrNameRequired
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return "", fmt.Errorf("%w: %s", ErrInvalidName, name)
			}
		default:
			return "", fmt.Errorf("%w: %s", ErrInvalidName, name)
		}
	}

	return name, nil
}

// qualifyName joins an optional schema and a table name after sanitizing
// both parts.
func qualifyName(schema, table string) (string, error) {
	name, err := sanitizeName(table)
	if err != nil {
		return "", err
	}
	if schema == "" {
		return name, nil
	}

	prefix, err := sanitizeName(schema)
	if err != nil {
		return "", err
	}

	return prefix + "." + name, nil
}
