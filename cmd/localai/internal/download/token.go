// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package download

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// TokenEnv is the environment variable holding a Hugging Face access token.
const TokenEnv = "HF_TOKEN"

// Token is an access token sealed in an encrypted memguard enclave.
//
// # Description
//
// The plaintext only exists in locked memory while a request header is being
// built. A nil *Token is valid and means anonymous access.
type Token struct {
	enclave *memguard.Enclave
}

// NewToken seals secret. The caller's copy is wiped. Returns nil for an
// empty secret.
func NewToken(secret []byte) *Token {
	if len(strings.TrimSpace(string(secret))) == 0 {
		memguard.WipeBytes(secret)
		return nil
	}
	return &Token{enclave: memguard.NewEnclave(secret)}
}

// TokenFromEnv seals the value of HF_TOKEN, or returns nil if unset.
func TokenFromEnv() *Token {
	v, ok := os.LookupEnv(TokenEnv)
	if !ok {
		return nil
	}
	return NewToken([]byte(strings.TrimSpace(v)))
}

// authorize sets the bearer header on req.
func (t *Token) authorize(req *http.Request) error {
	if t == nil || t.enclave == nil {
		return nil
	}
	buf, err := t.enclave.Open()
	if err != nil {
		return fmt.Errorf("open token enclave: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("Authorization", "Bearer "+buf.String())
	return nil
}
