package wpcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
	"github.com/livinlefevreloca/upkeep/internal/updater"
)

var _ updater.PackageManager = (*Client)(nil)

type listedPackage struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Version       string `json:"version"`
	UpdateVersion string `json:"update_version"`
}

type updatedPackage struct {
	Name       string `json:"name"`
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
	Status     string `json:"status"`
}

// Outdated lists packages of class with an update available
func (c *Client) Outdated(ctx context.Context, class maintenance.PackageClass) ([]updater.Package, error) {
	out, err := c.Run(ctx, class.String(), "list",
		"--update=available",
		"--fields=name,status,version,update_version",
		"--format=json")
	if err != nil {
		return nil, err
	}

	var listed []listedPackage
	if err := json.Unmarshal(out, &listed); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", class, err)
	}

	pkgs := make([]updater.Package, 0, len(listed))
	for _, p := range listed {
		pkgs = append(pkgs, updater.Package{
			Name:          p.Name,
			Version:       p.Version,
			UpdateVersion: p.UpdateVersion,
		})
	}
	return pkgs, nil
}

// Upgrade updates one package
func (c *Client) Upgrade(ctx context.Context, class maintenance.PackageClass, pkg updater.Package) (updater.UpgradeResult, error) {
	out, err := c.Run(ctx, class.String(), "update", pkg.Name, "--format=json")
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return updater.UpgradeResult{Messages: ce.Messages()}, fmt.Errorf("exit status %d", ce.ExitCode)
		}
		return updater.UpgradeResult{}, err
	}

	var updated []updatedPackage
	if err := json.Unmarshal(out, &updated); err != nil {
		return updater.UpgradeResult{}, fmt.Errorf("decode %s update: %w", class, err)
	}
	for _, u := range updated {
		if u.Name != pkg.Name {
			continue
		}
		if !strings.EqualFold(u.Status, "Updated") {
			return updater.UpgradeResult{}, fmt.Errorf("status %q", u.Status)
		}
		return updater.UpgradeResult{NewVersion: u.NewVersion}, nil
	}
	return updater.UpgradeResult{}, fmt.Errorf("%s %s missing from update output", class, pkg.Name)
}
