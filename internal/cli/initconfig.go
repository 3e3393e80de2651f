package cli

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/MrEthical07/umbra"
	"github.com/MrEthical07/umbra/config"
	"github.com/MrEthical07/umbra/vault"
	"github.com/spf13/cobra"
)

func (a *app) newInitConfigCmd() *cobra.Command {
	var (
		force   bool
		backend string
	)
	cmd := &cobra.Command{
		Use:         "init-config",
		Short:       "Write a default config file with a fresh vault master key",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				p, err := config.Path()
				if err != nil {
					return err
				}
				path = p
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}

			cfg, err := defaultFileConfig(backend)
			if err != nil {
				return err
			}
			if err := cfg.Client.Validate(); err != nil {
				return err
			}
			if err := config.WriteFile(&cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().StringVar(&backend, "backend", umbra.VaultSQLite, "vault backend to configure")
	return cmd
}

func defaultFileConfig(backend string) (config.Config, error) {
	key := make([]byte, vault.MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return config.Config{}, fmt.Errorf("generate master key: %w", err)
	}
	defer clear(key)

	cfg := config.Config{
		Client: umbra.DefaultConfig(),
		Demo:   config.DefaultDemo(),
	}
	cfg.Client.Vault.Backend = backend
	cfg.Client.Vault.MasterKey = base64.StdEncoding.EncodeToString(key)
	if backend == umbra.VaultRedis && cfg.Client.Vault.RedisAddr == "" {
		cfg.Client.Vault.RedisAddr = "127.0.0.1:6379"
	}
	return cfg, nil
}
