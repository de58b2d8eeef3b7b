package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", filePath)
	}
	return cfg, nil
}

// FromReader reads a config from the given reader. Defaults are applied but the config is not
// validated, so that flags can still override it.
func FromReader(r io.Reader) (*Config, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "cannot parse config as JSON")
	}
	cfg := &Config{}
	if err := DecodeAttributes(raw, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// DecodeAttributes decodes a JSON derived attribute map into the struct pointed to by to, using
// json tags. Durations may be given as strings such as "100ms".
func DecodeAttributes(attributes map[string]interface{}, to interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           to,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(attributes); err != nil {
		return errors.Wrap(err, "cannot decode attributes")
	}
	return nil
}
