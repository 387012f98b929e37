package loganalytics

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// BuildSignature computes the Data Collector API request signature for a
// payload of the given UTF-8 byte length. It fails only when the shared key
// is not valid base64.
func BuildSignature(contentLength int, dateHeader, sharedKeyB64 string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(sharedKeyB64)
	if err != nil {
		return "", fmt.Errorf("shared key is not valid base64: %w", err)
	}

	toSign := fmt.Sprintf("POST\n%d\napplication/json\nx-ms-date:%s\n/api/logs", contentLength, dateHeader)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(toSign))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
