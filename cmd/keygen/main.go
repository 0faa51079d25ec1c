package main

import (
	"fmt"
	"log"
	"os"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/pkg/utils/keygen"
	"github.com/nightshift/backend/pkg/utils/sshkeygen"
)

func main() {
	configPath := os.Getenv("NIGHTSHIFT_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	apiKey := keygen.GenerateAPIKey()
	fmt.Printf("API key: %s\n", apiKey)
	fmt.Printf("Add it under auth.api_keys in %s\n\n", configPath)

	privateKeyPath, publicKeyPath := sshkeygen.ArtifactKeyPaths(cfg.Paths.BaseDir)
	_, statErr := os.Stat(privateKeyPath)
	existed := statErr == nil

	fmt.Printf("Artifact upload key pair:\n")
	fmt.Printf("Private key: %s\n", privateKeyPath)
	fmt.Printf("Public key: %s\n", publicKeyPath)

	if err := sshkeygen.GenerateEd25519KeyPair(privateKeyPath, publicKeyPath); err != nil {
		log.Fatalf("Failed to generate key pair: %v", err)
	}

	if existed {
		fmt.Printf("✓ Key pair already exists (skipped)\n")
	} else {
		fmt.Printf("✓ Key pair generated successfully\n")
	}
}
