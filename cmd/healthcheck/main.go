// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the gateway's /health endpoint returns HTTP 200,
// and 1 otherwise. Compile with CGO_ENABLED=0 for a fully static binary.
package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	if !healthy(healthURL(os.Getenv("PULSE_PORT"))) {
		os.Exit(1)
	}
}

func healthURL(port string) string {
	if port == "" {
		port = "3000"
	}
	return "http://localhost:" + port + "/health"
}

func healthy(url string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
