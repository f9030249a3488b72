package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignHMAC(t *testing.T) {
	sig := SignHMAC("secret", "POST\n/hook\n1700000000\nabcd1234\ndeadbeef")
	// 确定性且为 64 位 hex
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, SignHMAC("secret", "POST\n/hook\n1700000000\nabcd1234\ndeadbeef"))
	assert.NotEqual(t, sig, SignHMAC("other", "POST\n/hook\n1700000000\nabcd1234\ndeadbeef"))
}

func TestBuildCanonical(t *testing.T) {
	got := BuildCanonical("post", "/hook", 1700000000, "n1", "bodyhex")
	assert.Equal(t, "POST\n/hook\n1700000000\nn1\nbodyhex", got)
}

func TestHashHex(t *testing.T) {
	// sha256("") 固定值
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashHex(nil))
}
