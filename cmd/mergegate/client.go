package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// daemonGet fetches path from the daemon and decodes the JSON response
// into out
func daemonGet(path string, out interface{}) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(serverAddr + path)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon (is it running?)")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// daemonPost sends body as JSON to path and decodes the response into out
// (out may be nil)
func daemonPost(path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(serverAddr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to connect to daemon (is it running?)")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parsePRRef splits "owner/repo#123" into its parts
func parsePRRef(ref string) (owner, repo string, number int, err error) {
	slash := strings.Index(ref, "/")
	hash := strings.LastIndex(ref, "#")
	if slash < 1 || hash < slash+2 || hash == len(ref)-1 {
		return "", "", 0, fmt.Errorf("invalid PR reference %q (expected owner/repo#number)", ref)
	}
	if _, err := fmt.Sscanf(ref[hash+1:], "%d", &number); err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid PR number in %q", ref)
	}
	return ref[:slash], ref[slash+1 : hash], number, nil
}
