package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffConfig_Delay(t *testing.T) {
	b := DefaultBackoff()

	assert.Equal(t, time.Duration(0), b.delay(0))
	assert.Equal(t, 500*time.Millisecond, b.delay(1))
	assert.Equal(t, time.Second, b.delay(2))
	assert.Equal(t, 2*time.Second, b.delay(3))
	assert.Equal(t, 30*time.Second, b.delay(20))
}
