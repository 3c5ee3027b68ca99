package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	Logf("hello %d", 1)

	logf := Component("poller")
	logf("sensor=%s down", "a")
	assert.Equal(t, []string{"hello 1", "[poller] sensor=a down"}, lines)

	SetLogger(nil)
	logf("muted")
	assert.Len(t, lines, 2)
}
