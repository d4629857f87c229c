package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateRendersFraction(t *testing.T) {
	var buf bytes.Buffer
	b := New(&buf, "solving", 10)
	b.Update(5, 10)
	assert.Contains(t, buf.String(), "50%")
	assert.Contains(t, buf.String(), "(5/10)")
}

func TestUpdateIgnoresZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	b := New(&buf, "solving", 10)
	b.Update(0, 0)
	assert.Empty(t, buf.String())
}

func TestDoneAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	b := New(&buf, "solving", 10)
	b.Done()
	assert.Equal(t, "\n", buf.String())
}

func TestNewDefaultsWidth(t *testing.T) {
	b := New(nil, "x", 0)
	assert.Equal(t, 30, b.width)
}
