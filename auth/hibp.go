package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	hibpRangeURL  = "https://api.pwnedpasswords.com/range/"
	hibpUserAgent = "vaultcore/1.0"
)

var hibpClient = &http.Client{Timeout: 4 * time.Second}

// BreachResult reports whether a password appeared in the HIBP corpus.
type BreachResult struct {
	Found bool
	Count int
}

// CheckBreached queries the HIBP range API using k-anonymity: only the first
// five hex characters of SHA1(pw) leave the machine, the suffix is matched
// locally against the returned candidate list.
func CheckBreached(ctx context.Context, pw string) (BreachResult, error) {
	sum := sha1.Sum([]byte(pw))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hibpRangeURL+prefix, nil)
	if err != nil {
		return BreachResult{}, fmt.Errorf("hibp request: %w", err)
	}
	req.Header.Set("User-Agent", hibpUserAgent)

	resp, err := hibpClient.Do(req)
	if err != nil {
		return BreachResult{}, fmt.Errorf("hibp query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return BreachResult{}, fmt.Errorf("hibp query: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		candidate, count, ok := splitRangeLine(scanner.Text())
		if !ok || !strings.EqualFold(candidate, suffix) {
			continue
		}
		return BreachResult{Found: true, Count: count}, nil
	}
	if err := scanner.Err(); err != nil {
		return BreachResult{}, fmt.Errorf("hibp read response: %w", err)
	}
	return BreachResult{}, nil
}

// splitRangeLine parses a "SUFFIX:COUNT" line from the range response.
func splitRangeLine(line string) (suffix string, count int, ok bool) {
	line = strings.TrimSpace(line)
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
	if err != nil {
		return "", 0, false
	}
	return line[:idx], n, true
}
