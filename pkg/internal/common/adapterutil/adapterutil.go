/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package adapterutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DecodeInto converts a JSON-marshallable value (a parsed credential subject, a request body map)
// into a custom struct.
func DecodeInto(src, custom interface{}) error {
	srcBytes, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal source as json : %w", err)
	}

	err = json.NewDecoder(bytes.NewReader(srcBytes)).Decode(custom)
	if err != nil {
		return fmt.Errorf("failed to decode custom value : %w", err)
	}

	return nil
}

// StringsContains check if the string is present in the string array.
func StringsContains(val string, slice []string) bool {
	for _, s := range slice {
		if val == s {
			return true
		}
	}

	return false
}

// UniqueStrings trims every value and returns the non-blank ones in order of first appearance.
func UniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

// ValidHTTPURL checks if the string is a valid http url.
func ValidHTTPURL(str string) bool {
	u, err := url.Parse(str)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
