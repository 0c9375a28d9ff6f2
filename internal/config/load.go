package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// bootstrapFile is the CLI harness's own defaults file — not the desktop
// UI's persistence format, which is a separate collaborator out of scope
// here. Grounded on the teacher's examples/printer/setting.go and
// examples/tool/setting/setting.go, which both load a flat config.yaml with
// gopkg.in/yaml.v3(v2) at process start.
const bootstrapFile = "raiconnectd.yaml"

// Load reads path (or the default bootstrap file name if path is empty),
// overlaying it onto Default(). A missing file is not an error: the CLI
// harness runs fine off defaults alone.
func Load(path string) (ProxyConfig, error) {
	cfg := Default()
	if path == "" {
		path = bootstrapFile
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
