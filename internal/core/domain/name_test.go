package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeResourceName(t *testing.T) {
	assert.Equal(t, "myserver", NormalizeResourceName("  MyServer "))
	assert.Equal(t, "web-01", NormalizeResourceName("WEB-01"))
}

func TestValidateResourceName_Valid(t *testing.T) {
	for _, name := range []string{"web", "web-01", "my_app", "a", strings.Repeat("x", 50)} {
		assert.NoError(t, ValidateResourceName(name), name)
	}
}

func TestValidateResourceName_Empty(t *testing.T) {
	assert.ErrorIs(t, ValidateResourceName(""), ErrNameRequired)
}

func TestValidateResourceName_TooLong(t *testing.T) {
	assert.ErrorIs(t, ValidateResourceName(strings.Repeat("x", 51)), ErrNameTooLong)
}

func TestValidateResourceName_ForbiddenCharacters(t *testing.T) {
	for _, name := range []string{"my server", "web!", "a&b", "a=b", "a;b", "a/b", "a:b", "what?"} {
		assert.ErrorIs(t, ValidateResourceName(name), ErrNameForbidden, name)
	}
}

func TestGenerateHash(t *testing.T) {
	h1 := GenerateHash()
	h2 := GenerateHash()

	assert.Len(t, h1, 8)
	assert.NotEqual(t, h1, h2)
	assert.NotContains(t, h1, "-")
}

func TestCompositeName_Determinism(t *testing.T) {
	assert.Equal(t, "web-a1b2c3d4", CompositeName("web", "a1b2c3d4"))
	assert.Equal(t, "web-a1b2c3d4", CompositeName("web", "a1b2c3d4"))
}

func TestParseCompositeName_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		hash string
	}{
		{"web", "a1b2c3d4"},
		{"my-app", "deadbeef"},     // hyphen inside the name part
		{"a-b-c-d", "00000000"},    // many hyphens
		{"my_app", "cafebabe"},
	}

	for _, tc := range cases {
		composite := CompositeName(tc.name, tc.hash)
		name, hash, err := ParseCompositeName(composite)
		require.NoError(t, err, composite)
		assert.Equal(t, tc.name, name)
		assert.Equal(t, tc.hash, hash)
	}
}

func TestParseCompositeName_Malformed(t *testing.T) {
	for _, composite := range []string{"", "nohyphen", "-leading", "trailing-"} {
		_, _, err := ParseCompositeName(composite)
		assert.Error(t, err, composite)
	}
}
