// Package updater applies available plugin and theme updates one package at
// a time and records a per-package outcome.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

// Package is an installed package with an update available
type Package struct {
	Name          string
	Version       string
	UpdateVersion string
}

// UpgradeResult is what the package manager reports for one upgrade
type UpgradeResult struct {
	NewVersion string
	Messages   []string
}

// PackageManager lists and upgrades packages of one class
type PackageManager interface {
	Outdated(ctx context.Context, class maintenance.PackageClass) ([]Package, error)
	Upgrade(ctx context.Context, class maintenance.PackageClass, pkg Package) (UpgradeResult, error)
}

// Updater implements maintenance.PackageUpdater over a PackageManager
type Updater struct {
	manager PackageManager
	logger  *slog.Logger
}

// New creates an Updater
func New(manager PackageManager, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{manager: manager, logger: logger}
}

// Update upgrades every outdated package of the enabled classes. A class
// whose listing fails contributes no outcomes; listing errors are joined
// and returned with whatever the other class produced.
func (u *Updater) Update(ctx context.Context, pluginsEnabled, themesEnabled bool) (maintenance.Updates, error) {
	updates := maintenance.Updates{
		Plugins:        []maintenance.UpdateOutcome{},
		Themes:         []maintenance.UpdateOutcome{},
		PluginsEnabled: pluginsEnabled,
		ThemesEnabled:  themesEnabled,
	}

	var errs []error
	if pluginsEnabled {
		outcomes, err := u.updateClass(ctx, maintenance.ClassPlugin)
		updates.Plugins = outcomes
		if err != nil {
			errs = append(errs, err)
		}
	}
	if themesEnabled {
		outcomes, err := u.updateClass(ctx, maintenance.ClassTheme)
		updates.Themes = outcomes
		if err != nil {
			errs = append(errs, err)
		}
	}

	return updates, errors.Join(errs...)
}

func (u *Updater) updateClass(ctx context.Context, class maintenance.PackageClass) ([]maintenance.UpdateOutcome, error) {
	outcomes := []maintenance.UpdateOutcome{}

	pkgs, err := u.manager.Outdated(ctx, class)
	if err != nil {
		return outcomes, fmt.Errorf("list outdated %ss: %w", class, err)
	}

	for _, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, maintenance.Failed(pkg.Name, pkg.Version, err.Error()))
			continue
		}

		outcome := u.upgrade(ctx, class, pkg)
		outcomes = append(outcomes, outcome)

		if outcome.Succeeded {
			u.logger.Info("package updated",
				"class", class.String(),
				"name", pkg.Name,
				"old_version", pkg.Version,
				"new_version", outcome.NewVersion)
		} else {
			u.logger.Warn("package update failed",
				"class", class.String(),
				"name", pkg.Name,
				"error", outcome.ErrorDetail)
		}
	}

	return outcomes, nil
}

func (u *Updater) upgrade(ctx context.Context, class maintenance.PackageClass, pkg Package) maintenance.UpdateOutcome {
	result, err := u.manager.Upgrade(ctx, class, pkg)
	if err != nil {
		return maintenance.Failed(pkg.Name, pkg.Version, append(result.Messages, err.Error())...)
	}

	newVersion := result.NewVersion
	if newVersion == "" {
		newVersion = pkg.UpdateVersion
	}
	if newVersion == "" {
		return maintenance.Failed(pkg.Name, pkg.Version, append(result.Messages, "package manager reported no new version")...)
	}
	return maintenance.Succeeded(pkg.Name, pkg.Version, newVersion)
}
