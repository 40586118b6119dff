package webcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oriys/pulsar/internal/logging"
	"gopkg.in/yaml.v3"
)

// WarmList defines the YAML specification for a set of pages to prefetch
type WarmList struct {
	// API version for future compatibility
	APIVersion string `yaml:"apiVersion,omitempty"`
	// Kind is always "WarmList"
	Kind string `yaml:"kind,omitempty"`

	// Pages to prefetch, in order
	Pages []string `yaml:"pages"`
}

// WarmReport summarizes a Warm run
type WarmReport struct {
	// Fetched counts pages downloaded fresh
	Fetched int
	// Cached counts pages already present in the store
	Cached int
	// Failed lists URLs that could not be fetched
	Failed []string
}

// LoadWarmList parses a YAML warm list file
func LoadWarmList(path string) (*WarmList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return ParseWarmList(f)
}

// ParseWarmList parses YAML content describing a warm list
func ParseWarmList(r io.Reader) (*WarmList, error) {
	var list WarmList
	if err := yaml.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	return &list, nil
}

// Validate validates a warm list
func (w *WarmList) Validate() error {
	if len(w.Pages) == 0 {
		return fmt.Errorf("at least one page is required")
	}
	for _, page := range w.Pages {
		if strings.TrimSpace(page) == "" {
			return fmt.Errorf("empty page URL")
		}
		if !strings.HasPrefix(page, "http://") && !strings.HasPrefix(page, "https://") {
			return fmt.Errorf("invalid page URL %q: must start with http:// or https://", page)
		}
	}
	return nil
}

// Warm fetches every page on the list in order, continuing past individual
// failures. Pages already cached count as hits without touching the network.
func (f *Fetcher) Warm(ctx context.Context, list *WarmList) (*WarmReport, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}

	report := &WarmReport{}
	for _, page := range list.Pages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := f.FetchPage(ctx, page)
		if err != nil {
			logging.Op().Warn("warm fetch failed", "url", page, "error", err)
			report.Failed = append(report.Failed, page)
			continue
		}
		if res.FromCache {
			report.Cached++
		} else {
			report.Fetched++
		}
	}
	return report, nil
}

// ExampleWarmList returns an example YAML warm list
func ExampleWarmList() string {
	return `# Pulsar warm list
apiVersion: pulsar/v1
kind: WarmList

pages:
  - https://example.com/
  - https://go.dev/
`
}
