// Command healthcheck checks a running relay for container health checks.
// It exits 0 when the endpoint answers 200.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	path := flag.String("path", "/healthz", "endpoint path (/healthz or /readyz)")
	flag.Parse()

	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, checkURL(addr(), *path), nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("health check failed: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		log.Printf("health check returned %d", resp.StatusCode)
		os.Exit(1)
	}
}

// addr mirrors the relay's own lookup of its listen address.
func addr() string {
	for _, key := range []string{"RELAY_HTTP_ADDR", "HTTP_ADDR"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ":8080"
}

func checkURL(addr, path string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}
