package identity

import (
	"io"

	yaml "gopkg.in/yaml.v2"
)

type UserConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Role      string `yaml:"role"`
	Superuser bool   `yaml:"superuser"`
}

type Config struct {
	Roles []string     `yaml:"roles"`
	Users []UserConfig `yaml:"users"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
