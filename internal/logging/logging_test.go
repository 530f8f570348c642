package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "abcd...wxyz", MaskKey("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "*****", MaskKey("short"))
	assert.Equal(t, "", MaskKey(""))
}

func TestNew(t *testing.T) {
	l, err := New(Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}
