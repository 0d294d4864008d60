package artifacts

import _ "embed"

// DefaultSettings is written to the config directory on first start and
// used whenever the settings file is missing.
//
//go:embed global/settings.yaml
var DefaultSettings []byte
