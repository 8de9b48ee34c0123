package njsm

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/danmuck/njsm/internal/nsm"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const EnvServerURL = "NSM_URL"

// Env is the process environment the daemon hands to its clients.
type Env struct {
	ServerURL string `env:"NSM_URL,required"`
}

// LoadEnv reads envFile when it exists (real environment wins) and decodes
// the daemon address.
func LoadEnv(envFile string) (Env, error) {
	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, fmt.Errorf("njsm: load env file %q: %w", envFile, err)
		}
	}
	var env Env
	if err := envdecode.Decode(&env); err != nil {
		return Env{}, fmt.Errorf("%w: %s is undefined: %v", nsm.ErrServerURLRequired, EnvServerURL, err)
	}
	env.ServerURL = strings.TrimSpace(env.ServerURL)
	if env.ServerURL == "" {
		return Env{}, fmt.Errorf("%w: %s is undefined", nsm.ErrServerURLRequired, EnvServerURL)
	}
	return env, nil
}
