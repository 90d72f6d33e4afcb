package browser

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blocker decides which requests a tab fails.
type blocker struct {
	types    map[string]bool
	denylist []string
}

func newBlocker(types, denylist []string) *blocker {
	b := &blocker{types: make(map[string]bool, len(types)), denylist: denylist}
	for _, t := range types {
		b.types[strings.ToLower(t)] = true
	}
	return b
}

func (b *blocker) empty() bool {
	return len(b.types) == 0 && len(b.denylist) == 0
}

// applyResourceBlocking sets up request interception on page.
func applyResourceBlocking(page *rod.Page, b *blocker) *rod.HijackRouter {
	router := page.HijackRequests()

	router.MustAdd("*", func(ctx *rod.Hijack) {
		if b.shouldBlock(string(ctx.Request.Type()), ctx.Request.URL().String()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()
	return router
}

func (b *blocker) shouldBlock(resType, rawURL string) bool {
	for _, entry := range b.denylist {
		if strings.Contains(rawURL, entry) {
			return true
		}
	}

	// Map resource types to config names.
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return b.types["images"]
	case "font":
		return b.types["fonts"]
	case "media":
		return b.types["media"]
	case "stylesheet":
		return b.types["stylesheets"]
	default:
		return b.types[lower]
	}
}

// LoadDenylist reads one URL substring per line. Blank lines and lines
// starting with # are ignored. A missing file yields an empty list.
func LoadDenylist(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("browser: denylist: %w", err)
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("browser: denylist: %w", err)
	}
	return entries, nil
}
