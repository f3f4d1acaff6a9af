package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBase(t *testing.T) {
	assert.Equal(t, "hi", Base("hi"))
	assert.Equal(t, "hi", Base("hi-IN"))
	assert.Equal(t, "en", Base(" EN-us "))
	assert.Equal(t, "", Base(""))
	assert.Equal(t, "not a tag!", Base("Not A Tag!"))
}

func TestSame(t *testing.T) {
	assert.True(t, Same("hi", "hi-IN"))
	assert.True(t, Same("en-US", "en"))
	assert.False(t, Same("ta", "te"))
}

func TestLocale(t *testing.T) {
	assert.Equal(t, "hi-IN", Locale("hi", ""))
	assert.Equal(t, "en-US", Locale("en-US", ""))
	assert.Equal(t, "en-GB", Locale("en", "gb"))
	assert.Equal(t, "ml-IN", Locale("ml-in", ""))
}
