package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

const maxUserIDLen = 128

// identityKey names the caller for rate limiting. Authenticated callers are
// keyed by the X-User-ID header the upstream auth layer sets; everyone else
// by a hash of their address, so raw IPs never reach the ledger.
func identityKey(r *http.Request, trustProxy bool) string {
	if uid := strings.TrimSpace(r.Header.Get("X-User-ID")); uid != "" {
		if len(uid) > maxUserIDLen {
			uid = uid[:maxUserIDLen]
		}
		return "user:" + uid
	}
	sum := sha256.Sum256([]byte(clientIP(r, trustProxy)))
	return "ip:" + hex.EncodeToString(sum[:16])
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
