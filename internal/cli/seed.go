package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/services/profiles"
)

// SeedFile is the YAML document read by seed.
//
//	profiles:
//	  - id: 7f9c...
//	    name: Steel Co
//	    role: industry
//	    scrap_coins: 500
type SeedFile struct {
	Profiles []profiles.Profile `yaml:"profiles"`
}

// SeedResult reports which profiles were created or already present.
type SeedResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <profiles.yaml>",
		Short: "Create demo profiles",
		Long: `Create the profiles listed in a YAML file. Profiles whose id already
exists are left untouched; entries without an id are always created.
Seeded balances get no ledger entry, so reconcile reports them as drift.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func readSeedFile(path string) (SeedFile, error) {
	var doc SeedFile
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return doc, err
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, p := range doc.Profiles {
		if p.Name == "" {
			return doc, fmt.Errorf("profile %d: name is required", i)
		}
		if !p.Role.Valid() {
			return doc, fmt.Errorf("profile %q: unknown role %q", p.Name, p.Role)
		}
		if p.ScrapCoins < 0 {
			return doc, fmt.Errorf("profile %q: negative balance", p.Name)
		}
	}
	return doc, nil
}

func runSeed(cmd *cobra.Command, opts *RootOptions, path string) error {
	out := newOutput(opts, cmd.OutOrStdout())
	ctx := cmd.Context()

	doc, err := readSeedFile(path)
	if err != nil {
		return out.Fail(ExitCommandError, "read seed file", err)
	}

	application, closeFn, err := opts.open(ctx, opts)
	if err != nil {
		return out.Fail(ExitCommandError, "open store", err)
	}
	defer closeFn()

	res := SeedResult{Created: []string{}, Skipped: []string{}}
	for _, p := range doc.Profiles {
		if p.ID != "" {
			_, err := application.Profiles.Get(ctx, p.ID)
			if err == nil {
				res.Skipped = append(res.Skipped, p.ID)
				continue
			}
			if !svcerrors.IsCode(err, svcerrors.CodeNotFound) {
				return out.Fail(ExitCommandError, "look up "+p.ID, err)
			}
		}
		created, err := application.Profiles.Create(ctx, p)
		if err != nil {
			return out.Fail(ExitCommandError, "create "+p.Name, err)
		}
		res.Created = append(res.Created, created.ID)
	}

	if out.JSON() {
		return out.Data(res)
	}
	out.Mark(true, fmt.Sprintf("created %d profiles, skipped %d", len(res.Created), len(res.Skipped)))
	return nil
}
