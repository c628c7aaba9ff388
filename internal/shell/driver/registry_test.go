package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
)

const registryTestCatalog = `
providers:
  - name: aws
    instance_configs:
      - region: eu-west-1
        zones:
          - name: eu-west-1a
            instance_types:
              - type: t3.micro
                price_variable: 0.0104
dns_zones:
  - name: example.com
    driver: aws
`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cat, err := catalog.Parse([]byte(registryTestCatalog))
	require.NoError(t, err)

	r, err := NewRegistry(Config{}, Deps{Catalog: cat})
	require.NoError(t, err)
	return r
}

func TestRegistry_UnconfiguredProviderFallsBackToVoid(t *testing.T) {
	r := testRegistry(t)

	for _, p := range []domain.Provider{
		domain.ProviderAWS,
		domain.ProviderAzure,
		domain.ProviderGCP,
		domain.ProviderOVH,
		domain.ProviderScaleway,
	} {
		d := r.ForProvider(p)
		require.NotNil(t, d)
		assert.Equal(t, domain.ProviderVoid, d.Provider())
		assert.False(t, r.Configured(p))
	}

	assert.True(t, r.Configured(domain.ProviderVoid))
}

func TestRegistry_DNSDriverRouting(t *testing.T) {
	r := testRegistry(t)

	d, err := r.DNSDriver("example.com")
	require.NoError(t, err)
	// aws owns the zone but is unconfigured here, so routing lands on void.
	assert.Equal(t, domain.ProviderVoid, d.Provider())

	_, err = r.DNSDriver("unknown.example")
	assert.Error(t, err)
}

// Every driver names a boot script that actually ships in the binary.
func TestCloudInitTemplatesEmbedded(t *testing.T) {
	env := Environment{Name: "production", Path: "prod"}

	for _, filename := range []string{
		"cloud-init-aws.sh",
		"cloud-init-azure.sh",
		"cloud-init-gcp.sh",
		"cloud-init-ovh.sh",
		"cloud-init-scaleway.sh",
		"cloud-init-void.sh",
	} {
		script, err := cloudInitData(filename, env)
		require.NoErrorf(t, err, "template %s must be embedded", filename)
		assert.NotContains(t, script, "{{ENV_NAME}}")
		assert.NotContains(t, script, "{{ENV_PATH}}")
	}
}

func TestCloudInitData_MissingTemplate(t *testing.T) {
	_, err := cloudInitData("cloud-init-nope.sh", Environment{})
	assert.Error(t, err)
}
