package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignHMAC HMAC-SHA256 签名（hex 小写）
func SignHMAC(secret, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildCanonical method\npath\ntimestamp\nnonce\nbodySha256Hex
func BuildCanonical(method, path string, ts int64, nonce, bodyHex string) string {
	return fmt.Sprintf("%s\n%s\n%d\n%s\n%s", strings.ToUpper(method), path, ts, nonce, bodyHex)
}

// HashHex sha256(body) hex 小写
func HashHex(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}
