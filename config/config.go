// Package config loads process configuration once, reading optional .env files
// before the environment is parsed.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/credauth/internal/utils"
)

var envFiles = []string{"config/.env", ".env"}

var (
	cfg     *utils.Config
	loadErr error
	once    sync.Once
)

// Load returns the process configuration. Missing .env files are ignored so
// that variables can be supplied externally.
func Load() (*utils.Config, error) {
	once.Do(func() {
		if err := loadEnvFiles(envFiles...); err != nil {
			loadErr = fmt.Errorf("load env files: %w", err)
			return
		}

		cfg, loadErr = utils.LoadConfig()
	})

	return cfg, loadErr
}

func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			var pathErr *fs.PathError
			if errors.As(err, &pathErr) {
				continue
			}
			return err
		}
	}

	return nil
}
