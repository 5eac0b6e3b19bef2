/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package keycmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hyperledger/aries-framework-go/pkg/vdr/fingerprint"
	"github.com/spf13/cobra"
	cmdutils "github.com/trustbloc/edge-core/pkg/utils/cmd"

	"github.com/trustbloc/agent-authz/pkg/keycodec"
)

const (
	seedFlagName  = "seed"
	seedFlagUsage = "Existing key to derive the output from: hex seed, hex seed and public key," +
		" hex PKCS#8 or expanded secret. A new key is generated when not set."
)

// Key is the printed output of the key command. Seed is accepted by the start command's issuer-key flag.
type Key struct {
	Seed               string `json:"seed"`
	SecretKey          string `json:"secretKey"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
	DID                string `json:"did"`
}

// GetKeyCmd returns the cobra key command.
func GetKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Generate an ed25519 key.",
		Long:  "Generates an ed25519 key and prints its seed, expanded secret, public key and did:key as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := cmdutils.GetUserSetVarFromString(cmd, seedFlagName, "", true)
			if err != nil {
				return err
			}

			key, err := newKey(seed)
			if err != nil {
				return fmt.Errorf("failed to create key : %w", err)
			}

			out, err := json.MarshalIndent(key, "", "  ")
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return err
		},
	}

	cmd.Flags().StringP(seedFlagName, "", "", seedFlagUsage)

	return cmd
}

func newKey(seed string) (*Key, error) {
	var (
		priv ed25519.PrivateKey
		err  error
	)

	if seed == "" {
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	} else {
		priv, err = keycodec.ParseSeed(seed)
	}

	if err != nil {
		return nil, err
	}

	secret, err := keycodec.Expand(priv.Seed())
	if err != nil {
		return nil, err
	}

	pub := priv.Public().(ed25519.PublicKey) // nolint:forcetypeassert

	multibase, err := keycodec.EncodePublicKey(pub)
	if err != nil {
		return nil, err
	}

	didKey, _ := fingerprint.CreateDIDKey(pub)

	return &Key{
		Seed:               hex.EncodeToString(priv.Seed()),
		SecretKey:          secret,
		PublicKeyMultibase: multibase,
		DID:                didKey,
	}, nil
}
