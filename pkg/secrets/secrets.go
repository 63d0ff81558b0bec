// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package secrets keeps credentials read from the environment in encrypted
memory.

lseval reads tokens (API_KEY for the Lightspeed API, the InfluxDB token) once
at startup. Each one is sealed in a memguard Enclave and only decrypted into
a locked buffer for the duration of a request.

# Security Features

  - Zero Value Logging: Secret values are never logged; String() is redacted
  - Encrypted At Rest: Values live in a memguard Enclave, not a Go string
  - Explicit Purge: Purge wipes every enclave key on shutdown
*/
package secrets

import (
	"errors"
	"os"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSecretNotFound is returned when an environment variable is unset.
var ErrSecretNotFound = errors.New("secret not found")

// Well-known secret names.
const (
	// SecretAPIKey is the bearer token for the Lightspeed API.
	SecretAPIKey = "API_KEY"

	// SecretInfluxToken is the default InfluxDB token variable.
	SecretInfluxToken = "INFLUXDB_TOKEN"
)

var initOnce sync.Once

// Init installs the memguard interrupt handler. Safe to call many times.
func Init() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
	})
}

// Purge destroys all secure memory. Call once before the process exits.
func Purge() {
	memguard.Purge()
}

// Secret is a sealed credential.
//
// Thread Safety: Safe for concurrent use. The zero value and nil are
// empty secrets.
type Secret struct {
	name    string
	enclave *memguard.Enclave
}

// New seals value. value is wiped after sealing.
func New(name string, value []byte) *Secret {
	if len(value) == 0 {
		return &Secret{name: name}
	}
	return &Secret{name: name, enclave: memguard.NewEnclave(value)}
}

// FromEnv seals the environment variable name.
//
// Outputs:
//
//	*Secret - The sealed value.
//	error - ErrSecretNotFound (wrapped with the name) when unset or empty.
func FromEnv(name string) (*Secret, error) {
	v := os.Getenv(name)
	if v == "" {
		return &Secret{name: name}, &notFoundError{name: name}
	}
	return New(name, []byte(v)), nil
}

// Name returns the variable the secret was read from.
func (s *Secret) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Empty reports whether the secret has no value.
func (s *Secret) Empty() bool {
	return s == nil || s.enclave == nil
}

// Use decrypts the secret into a locked buffer, calls fn with its bytes and
// destroys the buffer. fn must not retain the slice.
func (s *Secret) Use(fn func(value []byte) error) error {
	if s.Empty() {
		return &notFoundError{name: s.Name()}
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Reveal returns the plaintext value as a string. Prefer Use where the
// consumer accepts bytes.
func (s *Secret) Reveal() (string, error) {
	var out string
	err := s.Use(func(v []byte) error {
		out = string(v)
		return nil
	})
	return out, err
}

// String implements fmt.Stringer without exposing the value.
func (s *Secret) String() string {
	if s.Empty() {
		return "<empty>"
	}
	return "<redacted>"
}

type notFoundError struct{ name string }

func (e *notFoundError) Error() string { return "secret not found: " + e.name }

func (e *notFoundError) Unwrap() error { return ErrSecretNotFound }
