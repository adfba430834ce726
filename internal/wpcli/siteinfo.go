package wpcli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/livinlefevreloca/upkeep/internal/sampler"
)

var _ sampler.SiteInfo = (*Client)(nil)

// DatabaseSize returns the site database size in bytes
func (c *Client) DatabaseSize(ctx context.Context) (int64, error) {
	out, err := c.text(ctx, "db", "size", "--size_format=b")
	if err != nil {
		return 0, err
	}
	// Some versions append a unit.
	digits := strings.TrimSpace(strings.TrimSuffix(out, "B"))
	size, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse db size %q: %w", out, err)
	}
	return size, nil
}

// RuntimeVersion returns the PHP version running WordPress
func (c *Client) RuntimeVersion(ctx context.Context) (string, error) {
	return c.text(ctx, "eval", "echo PHP_VERSION;")
}

// PlatformVersion returns the WordPress core version
func (c *Client) PlatformVersion(ctx context.Context) (string, error) {
	return c.text(ctx, "core", "version")
}

// PackageCounts returns the installed and active plugin counts
func (c *Client) PackageCounts(ctx context.Context) (total, active int, err error) {
	out, err := c.Run(ctx, "plugin", "list", "--fields=name,status", "--format=json")
	if err != nil {
		return 0, 0, err
	}

	var listed []listedPackage
	if err := json.Unmarshal(out, &listed); err != nil {
		return 0, 0, fmt.Errorf("decode plugin list: %w", err)
	}
	for _, p := range listed {
		if p.Status == "active" || p.Status == "active-network" {
			active++
		}
	}
	return len(listed), active, nil
}

// ContentCount returns the number of published posts
func (c *Client) ContentCount(ctx context.Context) (int, error) {
	out, err := c.text(ctx, "post", "list", "--post_type=post", "--post_status=publish", "--format=count")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse post count %q: %w", out, err)
	}
	return n, nil
}
