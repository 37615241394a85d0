// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface (CLI) for the InfoBroker
// service using the Cobra library. It defines the root command,
// subcommands (like query, keys, snapshot), flags, and the main entry
// point for execution.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stormfleet/infobroker/buildvars"
	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/config"
	"github.com/stormfleet/infobroker/internal/factory"
	"github.com/stormfleet/infobroker/internal/logging"
	"github.com/stormfleet/infobroker/internal/model"
	"github.com/stormfleet/infobroker/internal/uds"
	"github.com/stormfleet/infobroker/internal/userinfo"
)

var cfgFile string
var verbose bool
var appConfig config.Config

// service and ib are wired by setupDefaultServices before any subcommand
// runs. ib is the composed router every query goes through.
var service *uds.UDS
var ib broker.Provider

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.Execute()
	if service != nil {
		if cerr := service.Close(); cerr != nil {
			logging.Warnf("closing store: %v", cerr)
		}
	}
	if err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

// getConfigPathFromCli returns the path given via --config, or nil when
// the flag was not set.
func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// setupDefaultServices loads the configuration and wires the store, the
// information service and the router. Running without a config file is
// fine; the service falls back to the in-memory store.
func setupDefaultServices(cmd *cobra.Command, args []string) error {
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, config.Defaults(), optionalConfigPath)
	if err != nil && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		return fmt.Errorf("error loading config: %w", err)
	}

	logging.SetDebug(appConfig.Debug || verbose)

	if service != nil {
		return nil
	}
	service, err = uds.NewFromFactory(appConfig.Store.Flavor, factory.Config(appConfig.Store.Options))
	if err != nil {
		return fmt.Errorf("initializing %q store: %w", appConfig.Store.Flavor, err)
	}

	inner := broker.NewRouter(service)
	ib = broker.NewRouter(inner, userinfo.NewProvider(inner))
	return nil
}

// newRootCmd creates and configures a new root cobra command. This
// function is used to create the main application command as well as
// fresh instances for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infobroker",
		Short: "InfoBroker answers capability queries about orchestrated infrastructures.",
		Long: `InfoBroker is the information service of a cloud orchestrator.
Components declare hierarchical capability keys (like
infrastructure.node_instances) and a router forwards each query to the
first provider able to answer it. Persistent data lives in a pluggable
key-value store (in-memory, Redis, or SQL).`,
		PersistentPreRunE: setupDefaultServices,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = buildvars.VersionOrDefault("dev")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is infobroker.yaml in the config dir or current dir)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging")
	cmd.PersistentFlags().String("store.flavor", "dict", `Key-value store flavor ("dict", "redis", "sql")`)

	cmd.AddCommand(
		queryCmd,
		canGetCmd,
		keysCmd,
		addInfraCmd,
		removeInfraCmd,
		addNodeDefCmd,
		setAuthCmd,
		snapshotCmd,
		restoreCmd,
	)

	return cmd
}

// parseQueryArgs turns trailing name=value arguments into query
// arguments. Values are parsed as YAML, so plain strings, numbers and
// inline maps all work.
func parseQueryArgs(raw []string) (broker.Args, error) {
	qargs := make(broker.Args, len(raw))
	for _, pair := range raw {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not of the form name=value", pair)
		}
		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return nil, fmt.Errorf("argument %q has an unparsable value: %w", pair, err)
		}
		qargs[name] = parsed
	}
	return qargs, nil
}

// queryCmd resolves a single capability key through the router and
// prints the result as YAML.
var queryCmd = &cobra.Command{
	Use:   "query <key> [name=value ...]",
	Short: "Resolve a capability key",
	Long: `Queries the information service for a capability key and prints the
result as YAML. Query arguments are given as name=value pairs; values
are parsed as YAML.

Example:
  infobroker query infrastructure.name infra_id=i-1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qargs, err := parseQueryArgs(args[1:])
		if err != nil {
			return err
		}
		result, err := ib.Get(cmd.Context(), args[0], qargs)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

// canGetCmd reports whether any provider declares the given key.
var canGetCmd = &cobra.Command{
	Use:   "can-get <key>",
	Short: "Check whether a capability key can be answered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), ib.CanGet(cmd.Context(), args[0]))
		return nil
	},
}

// keysCmd lists every capability key the composed router declares.
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List all declared capability keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, key := range ib.Keys() {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		return nil
	},
}

// readYAMLFile reads a YAML document from a file, or from stdin when the
// path is "-".
func readYAMLFile(path string, out any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// addInfraCmd stores an infrastructure's static description.
var addInfraCmd = &cobra.Command{
	Use:   "add-infra <description.yaml>",
	Short: "Register an infrastructure from a YAML description",
	Long: `Reads a static infrastructure description from a YAML file (or stdin
with "-") and stores it. The description must carry an infra_id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var desc model.InfraDescription
		if err := readYAMLFile(args[0], &desc); err != nil {
			return fmt.Errorf("reading description: %w", err)
		}
		if err := service.AddInfrastructure(cmd.Context(), &desc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered infrastructure %s\n", &desc)
		return nil
	},
}

// removeInfraCmd deletes an infrastructure's description and state.
var removeInfraCmd = &cobra.Command{
	Use:   "remove-infra <infra-id>",
	Short: "Remove an infrastructure and its runtime state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.RemoveInfrastructure(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed infrastructure %s\n", args[0])
		return nil
	},
}

// addNodeDefCmd stores the implementation set for a node type.
var addNodeDefCmd = &cobra.Command{
	Use:   "add-node-def <node-type> <definitions.yaml>",
	Short: "Store the implementation list for a node type",
	Long: `Reads a YAML list of node definitions (each with a backend_id and
arbitrary backend attributes) and stores it under the given node type.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Decode through the map shape so backend attributes beyond
		// backend_id survive as Attrs.
		var raw []map[string]any
		if err := readYAMLFile(args[1], &raw); err != nil {
			return fmt.Errorf("reading definitions: %w", err)
		}
		defs, err := model.AsNodeDefinitions(raw)
		if err != nil {
			return fmt.Errorf("reading definitions: %w", err)
		}
		if len(defs) == 0 {
			return fmt.Errorf("no definitions found in %s", args[1])
		}
		if err := service.AddNodeDefinition(cmd.Context(), args[0], defs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %d definition(s) for node type %s\n", len(defs), args[0])
		return nil
	},
}

// setAuthCmd stores a user's authentication data for a resource backend.
var setAuthCmd = &cobra.Command{
	Use:   "set-auth <backend-id> <user-id> <auth.yaml>",
	Short: "Store authentication data for a backend and user",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data any
		if err := readYAMLFile(args[2], &data); err != nil {
			return fmt.Errorf("reading auth data: %w", err)
		}
		if err := service.SetAuthData(cmd.Context(), args[0], args[1], data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored auth data for %s/%s\n", args[0], args[1])
		return nil
	},
}

// snapshotCmd dumps the whole store into a compressed JSON snapshot.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot [output-file]",
	Short: "Create a compressed (zstd) JSON snapshot of the store",
	Long: `Dumps every entry of the backing key-value store into a single,
Zstandard-compressed JSON file.

If an output file is specified, '.zst' will be appended to the name if
it's not already present. If no output file is specified, a default
filename 'infobroker-snapshot-YYYY-MM-DD.json.zst' is used.

The snapshot can be restored into any store flavor, so it doubles as a
migration path (e.g. from the in-memory store to SQL).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var outputFile string
		if len(args) == 0 {
			outputFile = fmt.Sprintf("infobroker-snapshot-%s.json.zst", time.Now().Format("2006-01-02"))
		} else {
			outputFile = args[0]
			if !strings.HasSuffix(outputFile, ".zst") {
				outputFile += ".zst"
			}
		}
		outf, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("could not create snapshot file: %w", err)
		}
		defer func() { _ = outf.Close() }()
		if err := service.Export(cmd.Context(), outf); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", outputFile)
		return nil
	},
}

// restoreCmd loads a snapshot back into the configured store.
var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-file.zst>",
	Short: "Restore the store from a compressed JSON snapshot",
	Long: `Loads a Zstandard-compressed JSON snapshot into the configured store.
Existing entries with the same keys are overwritten; other entries are
left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("could not open snapshot file: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := service.Import(cmd.Context(), f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s restored\n", args[0])
		return nil
	},
}
