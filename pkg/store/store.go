/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package store keeps issued credentials, the activity log and onboarded agents in an aries storage
// provider.
package store

import (
	"encoding/base64"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/trustbloc/edge-core/pkg/log"
)

var logger = log.New("agent-authz/store")

const keyPattern = "%s_%s"

// openStore opens the named store and declares the tags it is queried by.
func openStore(provider storage.Provider, name string, tagNames ...string) (storage.Store, error) {
	store, err := provider.OpenStore(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", name, err)
	}

	if len(tagNames) > 0 {
		err = provider.SetStoreConfig(name, storage.StoreConfiguration{TagNames: tagNames})
		if err != nil {
			return nil, fmt.Errorf("failed to set store config for %s: %w", name, err)
		}
	}

	return store, nil
}

// tagValue encodes v so it never contains the ':' separator of query expressions.
func tagValue(v string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(v))
}

func query(store storage.Store, tagName string, value ...string) ([][]byte, error) {
	expression := tagName
	if len(value) > 0 {
		expression = tagName + ":" + tagValue(value[0])
	}

	iter, err := store.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", expression, err)
	}

	defer func() {
		if errClose := iter.Close(); errClose != nil {
			logger.Warnf("failed to close iterator: %s", errClose)
		}
	}()

	var values [][]byte

	for {
		ok, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", expression, err)
		}

		if !ok {
			return values, nil
		}

		v, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("failed to read value: %w", err)
		}

		values = append(values, v)
	}
}

func getDBKey(prefix, id string) string {
	return fmt.Sprintf(keyPattern, prefix, id)
}
