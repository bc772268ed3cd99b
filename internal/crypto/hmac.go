package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// HMACAuth holds the credentials required for signed requests against a
// venue's private REST API (Binance-style HMAC-SHA256 query signing).
type HMACAuth struct {
	Key    string // API key, sent in the X-MBX-APIKEY header
	Secret string // API secret, raw bytes used as the HMAC key
}

// SignQuery computes the hex-encoded HMAC-SHA256 signature over a URL-encoded
// query string, ready to be appended as the signature parameter.
func (h *HMACAuth) SignQuery(query string) string {
	return hmacSHA256Hex([]byte(h.Secret), query)
}

// SignedQuery appends a millisecond timestamp and signature to the query
// string, producing the final request query.
func (h *HMACAuth) SignedQuery(query string) string {
	return h.SignedQueryAt(query, time.Now().UnixMilli())
}

// SignedQueryAt is like SignedQuery but lets the caller supply the timestamp
// (useful for deterministic testing).
func (h *HMACAuth) SignedQueryAt(query string, tsMillis int64) string {
	q := query
	if q != "" {
		q += "&"
	}
	q += "timestamp=" + strconv.FormatInt(tsMillis, 10)
	return q + "&signature=" + h.SignQuery(q)
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
