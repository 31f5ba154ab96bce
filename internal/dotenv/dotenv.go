// Package dotenv loads a local .env file into the process environment.
// The callbridge binary reads all of its configuration from CALLBRIDGE_*
// environment variables, and during local development it is convenient to
// keep those in a .env file next to the checkout instead of exporting them
// by hand. Only the subset of dotenv syntax we actually use is supported:
// KEY=VALUE lines, blank lines, # comments, an optional "export " prefix,
// and single or double quoted values.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads path and sets every KEY=VALUE pair it contains, unless the
// key is already present in the environment. Real environment variables
// always win so that deployed settings cannot be shadowed by a stray .env.
// A missing file is not an error.
func LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, val, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan env file %q: %w", path, err)
	}
	return nil
}

// parseLine splits one dotenv line into a key and an unquoted value.
// Comments, blank lines, and lines without a key report ok=false.
func parseLine(raw string) (key, val string, ok bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	idx := strings.Index(line, "=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(line[idx+1:])), true
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	switch {
	case strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`),
		strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'"):
		return val[1 : len(val)-1]
	}
	return val
}
