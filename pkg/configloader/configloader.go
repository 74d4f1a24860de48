// pkg/configloader/configloader.go
package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load fills cfgPtr from registered defaults, an optional YAML file and
// environment variables named <envPrefix>_<KEY_WITH_UNDERSCORES>.
// If cfgPtr implements Validate() error it is called last.
func Load(path, envPrefix string, cfgPtr interface{}) error {
	v := viper.New()

	for key, val := range getDefaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}

	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	if vc, ok := cfgPtr.(interface{ Validate() error }); ok {
		if err := vc.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}
	return nil
}
