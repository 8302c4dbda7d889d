package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Bound on tracked clients before expired windows are swept.
const maxTrackedClients = 4096

// guestWindow counts one client's requests inside the current fixed window.
type guestWindow struct {
	hits    int
	resetAt time.Time
}

// RateLimit enforces a fixed-window request budget per client IP. Booth
// kiosks on a venue network often share one egress IP, so the budget and
// window come from configuration rather than being baked in here. Over-limit
// requests get a 429 with the same error envelope the handlers use.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		clients = make(map[string]*guestWindow)
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			ip := requestIP(r)

			mu.Lock()
			win, ok := clients[ip]
			if !ok || now.After(win.resetAt) {
				if len(clients) >= maxTrackedClients {
					for k, v := range clients {
						if now.After(v.resetAt) {
							delete(clients, k)
						}
					}
				}
				win = &guestWindow{resetAt: now.Add(window)}
				clients[ip] = win
			}
			win.hits++
			over := win.hits > limit
			retryIn := time.Until(win.resetAt)
			mu.Unlock()

			if over {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryIn.Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","message":"Too many requests."}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestIP picks the limiting key for a request: the first valid address in
// X-Forwarded-For, then the remote host. Entries that do not parse as an IP
// are skipped so a spoofed header cannot dodge the bucket.
func requestIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip != "" && net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
