package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tapestry-ai/tapestry/pkg/canonjson"
)

// uniqueKeyHexLen is the number of hex characters kept from the payload hash.
const uniqueKeyHexLen = 16

// UniqueKey derives the thread dedup key: "{interaction_type}:{16-hex}",
// where the suffix is the first 16 hex chars of a SHA-256 over the
// payload's canonical JSON. Two ingests of the same logical record
// therefore collapse to one row.
func UniqueKey(interactionType string, payload any) (string, error) {
	canonical, err := canonjson.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(canonical)

	return interactionType + ":" + hex.EncodeToString(sum[:])[:uniqueKeyHexLen], nil
}
