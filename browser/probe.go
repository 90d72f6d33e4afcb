package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnreachable is returned when the DevTools endpoint does not answer.
var ErrUnreachable = errors.New("browser: devtools endpoint unreachable")

// Probe checks that <cdpURL>/json answers with a non-empty list of DevTools
// targets.
func Probe(ctx context.Context, cdpURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	endpoint := strings.TrimRight(cdpURL, "/") + "/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrUnreachable, endpoint, resp.StatusCode)
	}
	var targets []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return fmt.Errorf("%w: %s: decode targets: %v", ErrUnreachable, endpoint, err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: %s lists no targets", ErrUnreachable, endpoint)
	}
	return nil
}
