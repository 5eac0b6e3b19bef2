/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the agent authorization server. "start" serves the credential issuance,
// presentation verification and websocket session endpoints, gating each agent operation on a
// challenge-bound presentation of the credential its policy names. "key" generates an Ed25519 key
// and its did:key for issuers and agents.
package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/trustbloc/agent-authz/cmd/authz-rest/keycmd"
	"github.com/trustbloc/agent-authz/cmd/authz-rest/startcmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "authz-rest",
		Short: "Agent authorization server",
		Long:  "Issues agent permission credentials and authorizes agent operations against verified presentations.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd(&startcmd.HTTPServer{}))
	rootCmd.AddCommand(keycmd.GetKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("failed to run authz-rest: %s", err.Error())
	}
}
