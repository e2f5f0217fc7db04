package cli

import (
	"github.com/spf13/viper"
)

// loadConfig decodes the values viper has collected into a TrackConfig.
func loadConfig(v *viper.Viper) (*TrackConfig, error) {
	cfg := &TrackConfig{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(ComposeDecodeHookFunc())); err != nil {
		return nil, err
	}
	return cfg, nil
}
