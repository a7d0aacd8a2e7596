package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, Level("dev"))
	assert.Equal(t, zerolog.TraceLevel, Level("TEST"))
	assert.Equal(t, zerolog.InfoLevel, Level("prod"))
	assert.Equal(t, zerolog.InfoLevel, Level("staging"))
}
