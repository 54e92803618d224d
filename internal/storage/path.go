package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// DatasetTablePrefix is the key prefix under which every part file of one
// dataset table lives.
func DatasetTablePrefix(dataset, tableName string) (string, error) {
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join("datasets", dataset, tableName) + "/", nil
}

func DatasetFilePath(dataset, tableName string, part int) (string, error) {
	prefix, err := DatasetTablePrefix(dataset, tableName)
	if err != nil {
		return "", err
	}
	if part < 0 {
		return "", fmt.Errorf("part must be >= 0")
	}
	return prefix + fmt.Sprintf("part-%05d.parquet", part), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
