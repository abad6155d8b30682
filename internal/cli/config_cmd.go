package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/ui"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

var (
	configInitForce bool
	addHostGPU      bool
	addHostTags     []string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, check and edit the fleetdash config",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an annotated example config",
	Long: `Write an example config with every default spelled out and two sample
hosts. The path defaults to --config, or fleetdash.yaml in the current
directory.

Examples:
  fleetdash config init
  fleetdash config init /etc/fleetdash/config.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if len(args) == 1 {
			path = args[0]
		}
		return configInit(cmd.OutOrStdout(), path, configInitForce)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configValidate(cmd.OutOrStdout(), cfgFile)
	},
}

var configAddHostCmd = &cobra.Command{
	Use:   "add-host NAME [ADDRESS]",
	Short: "Append a host to the config file",
	Long: `Append a host entry to the config file, keeping its comments.

Without ADDRESS the name is used as the address; when it is a Host alias
in ~/.ssh/config the alias's HostName, Port, User and IdentityFile apply
when connecting.

Examples:
  fleetdash config add-host gpu-03 --gpu --tags training,a100
  fleetdash config add-host batch-01 10.0.4.17:2222`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := config.HostConfig{Name: args[0], HasGPU: addHostGPU, Tags: addHostTags}
		if len(args) == 2 {
			host.Address = args[1]
		}
		return configAddHost(cmd.OutOrStdout(), cfgFile, host)
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	configAddHostCmd.Flags().BoolVar(&addHostGPU, "gpu", false, "host has NVIDIA GPUs")
	configAddHostCmd.Flags().StringSliceVar(&addHostTags, "tags", nil, "tags (comma-separated)")

	configCmd.AddCommand(configInitCmd, configValidateCmd, configAddHostCmd)
	rootCmd.AddCommand(configCmd)
}

func configInit(w io.Writer, path string, force bool) error {
	if path == "" {
		path = config.ConfigFileName
	}
	if err := config.WriteExample(path, force); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Wrote %s\n", ui.SymbolAcked, path)
	fmt.Fprintln(w, "  Edit the hosts list, then run 'fleetdash collect' to try it.")
	return nil
}

func configValidate(w io.Writer, explicit string) error {
	path, err := config.Find(explicit)
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New(errors.ErrConfig,
			"No config file found",
			"Run 'fleetdash config init' to create one, or pass --config")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s is valid\n", ui.SymbolAcked, path)
	fmt.Fprintf(w, "  %d hosts: %s\n", len(cfg.Hosts), strings.Join(cfg.HostNames(), ", "))
	fmt.Fprintf(w, "  polling every %s, history: %s\n", cfg.PollingInterval(), historyDriver(cfg))
	return nil
}

// lookupSSHHost is swapped in tests.
var lookupSSHHost = sshutil.LookupHost

func configAddHost(w io.Writer, explicit string, host config.HostConfig) error {
	path, err := config.Find(explicit)
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New(errors.ErrConfig,
			"No config file found",
			"Run 'fleetdash config init' first")
	}

	note := ""
	if host.Address == "" {
		host.Address = host.Name
		if entry, ok := lookupSSHHost(host.Name); ok {
			note = fmt.Sprintf("ssh config alias for %s", entry.Address())
		} else {
			note = "not in ~/.ssh/config, used as a hostname"
		}
	}

	if err := config.AddHost(path, host); err != nil {
		if errors.IsCode(err, errors.ErrConfig) {
			return err
		}
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't add host to "+path, "Check that the file is valid YAML with a hosts list")
	}

	// Catch anything the new entry broke before the daemon trips over it.
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s Added %s (%s) to %s\n", ui.SymbolAcked, host.Name, host.Address, filepath.Base(path))
	if note != "" {
		fmt.Fprintf(w, "  %s\n", note)
	}
	return nil
}
