package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/secret"
)

const rsaKeyBits = 2048

func newKeygenCmd(a *app) *cobra.Command {
	var (
		outDir    string
		secretKey bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write an RSA signing keypair, or print a secret encryption key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secretKey {
				key, err := secret.GenerateKey()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
				return err
			}
			priv, pub, err := writeKeypair(outDir)
			if err != nil {
				return err
			}
			a.logger.Info("keypair written", zap.String("private", priv), zap.String("public", pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for private.pem and public.pem")
	cmd.Flags().BoolVar(&secretKey, "secret", false, "print a base64 key for AUCTORITAS_SECRET_KEYS instead")
	return cmd
}

// writeKeypair writes private.pem (PKCS#8, mode 0600) and public.pem (PKIX)
// into dir and returns their paths.
func writeKeypair(dir string) (string, string, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}
