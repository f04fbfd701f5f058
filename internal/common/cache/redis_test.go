package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPrefixing(t *testing.T) {
	c := &Client{prefix: "rentpay:"}

	assert.Equal(t, "rentpay:lock:contract:C-1", c.key("lock", "contract:C-1"))
	assert.Equal(t, "rentpay:idem", c.key("idem"))

	bare := &Client{}
	assert.Equal(t, "idem:k", bare.key("idem", "k"))
}
