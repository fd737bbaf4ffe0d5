package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion_Next(t *testing.T) {
	assert.Equal(t, Version(1), InitialVersion.Next())
	assert.Equal(t, Version(101), Version(100).Next())
}

func TestVersion_IsPreviousTo(t *testing.T) {
	assert.True(t, Version(0).IsPreviousTo(1))
	assert.False(t, Version(0).IsPreviousTo(2))
	assert.False(t, Version(1).IsPreviousTo(0))
	assert.False(t, Version(1).IsPreviousTo(1))
}
