// AngelaMos | 2026
// main.go

package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/storywork/storywork-api/internal/auth"
	"github.com/storywork/storywork-api/internal/config"
	"github.com/storywork/storywork-api/internal/middleware"
)

// devtoken mints a session token signed with identity.private_key_path so
// the API can be exercised locally without the identity provider.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	genKeys := flag.Bool("genkeys", false, "write a fresh key pair before signing")
	subject := flag.String("sub", "user_dev", "identity provider subject")
	email := flag.String("email", "dev@storywork.local", "email claim")
	firstName := flag.String("name", "Dev", "first name claim")
	role := flag.String("role", "user", "role claim (user or admin)")
	flag.Parse()

	identity := middleware.Identity{
		ExternalID:    *subject,
		Email:         *email,
		EmailVerified: true,
		FirstName:     *firstName,
		Role:          *role,
	}

	if err := run(*configPath, *genKeys, identity); err != nil {
		slog.Error("devtoken failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, genKeys bool, identity middleware.Identity) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		return errors.New("refusing to mint tokens in production")
	}

	if genKeys {
		if err := writeKeyPair(cfg.Identity); err != nil {
			return err
		}
	}

	signer, err := auth.NewSigner(cfg.Identity)
	if err != nil {
		return err
	}

	token, err := signer.CreateAccessToken(identity)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}

func writeKeyPair(cfg config.IdentityConfig) error {
	if cfg.PrivateKeyPath == "" || cfg.PublicKeyPath == "" {
		return errors.New("identity.private_key_path and identity.public_key_path are required")
	}

	for _, path := range []string{cfg.PrivateKeyPath, cfg.PublicKeyPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := auth.GenerateKeyPair(cfg.PrivateKeyPath, cfg.PublicKeyPath); err != nil {
		return err
	}

	slog.Info("key pair written",
		"private_key", cfg.PrivateKeyPath,
		"public_key", cfg.PublicKeyPath,
	)
	return nil
}
