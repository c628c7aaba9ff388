package driver

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed templates/*.sh
var cloudInitFS embed.FS

// cloudInitData loads a boot script template by filename and substitutes
// the environment path placeholder. Providers that need base64 user data
// encode the returned script themselves.
func cloudInitData(filename string, env Environment) (string, error) {
	raw, err := cloudInitFS.ReadFile("templates/" + filename)
	if err != nil {
		return "", fmt.Errorf("missing cloud-init template %s: %w", filename, err)
	}

	script := string(raw)
	script = strings.ReplaceAll(script, "{{ENV_NAME}}", env.Name)
	script = strings.ReplaceAll(script, "{{ENV_PATH}}", env.Path)
	return script, nil
}
