package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	assert.Equal(t, "v1.0.0", Info{Version: "v1.0.0"}.String())
	assert.Equal(t, "v1.0.0 (0123456)", Info{Version: "v1.0.0", Commit: "0123456789abcdef"}.String())
	assert.Equal(t, "dev (abc)", Info{Version: "dev", Commit: "abc"}.String())
}

func TestGetReturnsVersion(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, info.String(), GetInfo())
}
