package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv overlays a .env file (if present) onto the process
// environment, matching the "YAML is the source of truth, env is only
// for local dev convenience" posture used across the retrieval pack.
// A missing .env file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
