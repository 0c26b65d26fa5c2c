package main

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/auctoritas/auctoritas/jwt"
)

func newJWKSCmd(a *app) *cobra.Command {
	var (
		keyFile string
		keyID   string
	)
	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Print the JWKS document for a public or private key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keyFile == "" {
				keyFile = a.cfg.PrivateKeyFile
			}
			if keyID == "" {
				keyID = a.cfg.KeyID
			}
			doc, err := renderJWKS(keyFile, keyID)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(doc, '\n'))
			return err
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "", "PEM key file (defaults to AUCTORITAS_JWT_PRIVATE_KEY_FILE)")
	cmd.Flags().StringVar(&keyID, "kid", "", "key id published in the set")
	return cmd
}

func renderJWKS(keyFile, keyID string) ([]byte, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("no key file given")
	}
	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	cfg := jwt.Config{AccessTTL: time.Minute, Issuer: "auctoritas", KeyID: keyID}
	if block := pemType(pemBytes); block == "PUBLIC KEY" || block == "RSA PUBLIC KEY" {
		cfg.PublicKey = pemBytes
	} else {
		cfg.PrivateKey = pemBytes
	}
	m, err := jwt.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(m.JWKS(), "", "  ")
}

func pemType(data []byte) string {
	block, _ := pem.Decode(data)
	if block == nil {
		return ""
	}
	return block.Type
}
