// SPDX-License-Identifier: MIT

// Package session issues anonymous sessions and validates CSRF proofs.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const proofVersion = "v1"

// ErrProofInvalid is returned for malformed or tampered proofs.
var ErrProofInvalid = errors.New("session: invalid csrf proof")

// SignProof produces the stateless CSRF proof
// "v1.<base36 expiry ms>.<nonce>.<hex hmac-sha256>".
func SignProof(secret []byte, nonce string, expiresAt time.Time) string {
	exp := strconv.FormatInt(expiresAt.UnixMilli(), 36)
	return proofVersion + "." + exp + "." + nonce + "." + proofMAC(secret, nonce, exp)
}

// VerifyProof checks a proof's shape and signature in constant time and
// returns the embedded nonce and expiry. Expiry is NOT enforced here; the
// caller decides how stale a proof may be.
func VerifyProof(secret []byte, proof string) (nonce string, expiresAt time.Time, err error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 4 || parts[0] != proofVersion {
		return "", time.Time{}, ErrProofInvalid
	}
	exp, nonce, sig := parts[1], parts[2], parts[3]
	if nonce == "" || sig == "" {
		return "", time.Time{}, ErrProofInvalid
	}

	expected := proofMAC(secret, nonce, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", time.Time{}, ErrProofInvalid
	}

	ms, perr := strconv.ParseInt(exp, 36, 64)
	if perr != nil {
		return "", time.Time{}, ErrProofInvalid
	}
	return nonce, time.UnixMilli(ms), nil
}

func proofMAC(secret []byte, nonce, exp string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(nonce + ":" + exp))
	return hex.EncodeToString(mac.Sum(nil))
}
