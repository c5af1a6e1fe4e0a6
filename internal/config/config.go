// Package config loads the archive credentials the Capture Client
// needs, from the environment or an auth file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sigman78/archivist/internal/capture"
)

const (
	envLoggedInUser = "ARCHIVE_LOGGED_IN_USER"
	envLoggedInSig  = "ARCHIVE_LOGGED_IN_SIG"
	envS3Access     = "ARCHIVE_S3_ACCESS"
	envS3Secret     = "ARCHIVE_S3_SECRET"
)

// LoadCredentialsFromEnv reads the required ARCHIVE_LOGGED_IN_USER and
// ARCHIVE_LOGGED_IN_SIG variables (plus the optional S3 pair) from the
// process environment.
func LoadCredentialsFromEnv() (capture.Credentials, error) {
	creds := capture.Credentials{
		LoggedInUser: os.Getenv(envLoggedInUser),
		LoggedInSig:  os.Getenv(envLoggedInSig),
		S3Access:     os.Getenv(envS3Access),
		S3Secret:     os.Getenv(envS3Secret),
	}
	if !creds.Valid() {
		return capture.Credentials{}, fmt.Errorf("config: %s and %s must be set", envLoggedInUser, envLoggedInSig)
	}
	return creds, nil
}

// LoadCredentialsFromFile parses a "key=value" auth file (one
// assignment per line, blank lines and "#" comments ignored) into
// Credentials. Recognized keys match the environment variable names.
func LoadCredentialsFromFile(path string) (capture.Credentials, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is an explicit, operator-supplied flag
	if err != nil {
		return capture.Credentials{}, fmt.Errorf("config: open auth file: %w", err)
	}
	defer func() { _ = f.Close() }()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return capture.Credentials{}, fmt.Errorf("config: auth file: malformed line %q", line)
		}
		values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := scanner.Err(); err != nil {
		return capture.Credentials{}, fmt.Errorf("config: read auth file: %w", err)
	}

	creds := capture.Credentials{
		LoggedInUser: values[envLoggedInUser],
		LoggedInSig:  values[envLoggedInSig],
		S3Access:     values[envS3Access],
		S3Secret:     values[envS3Secret],
	}
	if !creds.Valid() {
		return capture.Credentials{}, fmt.Errorf("config: auth file missing %s and/or %s", envLoggedInUser, envLoggedInSig)
	}
	return creds, nil
}
