// Copyright 2025.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fleetprobe/fleetprobe/internal/adapters/config"
	"github.com/fleetprobe/fleetprobe/internal/adapters/logger"
	"github.com/fleetprobe/fleetprobe/internal/adapters/transport"
	"github.com/fleetprobe/fleetprobe/internal/core/domain"
	"github.com/fleetprobe/fleetprobe/internal/core/ports"
	"github.com/fleetprobe/fleetprobe/internal/core/services"
)

var (
	version   = "develop"
	gitCommit = "unknown"

	configFile    string
	inventoryFile string
	sshConfigFile string
	simulate      bool
	unsafeMode    bool
)

type app struct {
	log       *zap.SugaredLogger
	cfg       domain.Config
	inventory ports.Inventory
	tool      *services.ExecutionTool
	agent     *services.InvestigationAgent
}

func main() {
	paths, err := config.NewOSPaths()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	debug := strings.EqualFold(paths.EnvOrDefault(config.EnvPrefix+"_LOG_LEVEL", "info"), "debug")
	log, err := logger.New(paths.LogPath("fleetprobe.log"), debug)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	//nolint:errcheck // log.Sync may return an error which is safe to ignore here
	defer log.Sync()

	rootCmd := &cobra.Command{
		Use:           "fleetprobe",
		Short:         "Remote fleet command execution and investigation",
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ~/.config/fleetprobe/fleetprobe.yaml)")
	rootCmd.PersistentFlags().StringVar(&inventoryFile, "inventory", "", "Inventory file path (default: ~/.config/fleetprobe/inventory.yaml)")
	rootCmd.PersistentFlags().StringVar(&sshConfigFile, "ssh-config", "", "OpenSSH client config to import hosts from (default: ~/.ssh/config)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use the simulated transport instead of SSH")
	rootCmd.PersistentFlags().BoolVar(&unsafeMode, "unsafe", false, "Disable the safe-mode allow-list (deny-list still applies)")

	rootCmd.AddCommand(
		newExecCmd(log),
		newExecGroupCmd(log),
		newInvestigateCmd(log),
		newReportCmd(log),
		newGroupsCmd(log),
		newPoolStatsCmd(log),
		newHistoryCmd(log),
		newPatrolCmd(log),
	)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newApp wires the execution stack from config and inventory. The
// caller must Shutdown the returned app's tool.
func newApp(log *zap.SugaredLogger) (*app, error) {
	paths, err := config.NewOSPaths()
	if err != nil {
		return nil, err
	}

	cfgPath := configFile
	if cfgPath == "" {
		cfgPath = paths.ConfigPath("fleetprobe.yaml")
	}
	cfg, err := config.LoadTunables(cfgPath)
	if err != nil {
		return nil, err
	}
	if simulate {
		cfg.Simulate = true
	}
	if unsafeMode {
		cfg.SafeMode = false
	}

	invPath := inventoryFile
	if invPath == "" {
		invPath = paths.ConfigPath("inventory.yaml")
	}
	sshPath := sshConfigFile
	if sshPath == "" {
		sshPath = paths.SSHConfigPath()
	}
	inventory := config.NewFileInventory(log, invPath, sshPath)

	var factory ports.SessionFactory
	if cfg.Simulate {
		factory = transport.NewSimFactory(log)
	} else {
		factory = transport.NewSSHFactory(log)
	}

	manager := services.NewConnectionManager(log, cfg, factory)
	tool := services.NewExecutionTool(log, cfg, manager)
	agent := services.NewInvestigationAgent(log, cfg, tool)

	groups, err := inventory.Groups()
	if err != nil {
		log.Warnf("failed to load groups: %v", err)
	}
	for _, g := range groups {
		agent.AddServerGroup(g)
	}

	return &app{log: log, cfg: cfg, inventory: inventory, tool: tool, agent: agent}, nil
}

// parseProfile rejects unknown profile names before any app wiring
// happens, so a typo is a usage error rather than a failed
// investigation.
func parseProfile(name string) (domain.InvestigationProfile, error) {
	p := domain.InvestigationProfile(name)
	switch p {
	case domain.ProfileBasic, domain.ProfilePerformance, domain.ProfileSecurity:
		return p, nil
	default:
		return "", fmt.Errorf("unknown profile %q", name)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newExecCmd(log *zap.SugaredLogger) *cobra.Command {
	var timeout int
	cmd := &cobra.Command{
		Use:   "exec <hostname> <command...>",
		Short: "Execute a command on one server",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(log)
			if err != nil {
				return err
			}
			defer a.tool.Shutdown()

			server, err := a.inventory.FindServer(args[0])
			if err != nil {
				return err
			}
			command := strings.Join(args[1:], " ")
			result, err := a.tool.Execute(server, command, secondsFlag(timeout))
			if printErr := printJSON(result.ToMap()); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Command timeout in seconds (0 = configured default)")
	return cmd
}

func newExecGroupCmd(log *zap.SugaredLogger) *cobra.Command {
	var parallel int
	var timeout int
	cmd := &cobra.Command{
		Use:   "exec-group <group> <command...>",
		Short: "Execute a command on every server in a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(log)
			if err != nil {
				return err
			}
			defer a.tool.Shutdown()

			command := strings.Join(args[1:], " ")

			var results []domain.CommandResult
			if parallel > 0 {
				group, ok := a.agent.ServerGroup(args[0])
				if !ok {
					return fmt.Errorf("server group %q not found", args[0])
				}
				results = a.tool.ExecuteParallel(group.Servers, command, parallel, secondsFlag(timeout))
			} else {
				results, err = a.agent.ExecuteOnGroup(args[0], command, secondsFlag(timeout))
				if err != nil {
					return err
				}
			}

			out := make([]map[string]any, 0, len(results))
			for _, r := range results {
				out = append(out, r.ToMap())
			}
			return printJSON(out)
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 0, "Run in parallel with this many workers (0 = sequential)")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Command timeout in seconds (0 = configured default)")
	return cmd
}

func newInvestigateCmd(log *zap.SugaredLogger) *cobra.Command {
	var profile string
	var groupName string
	var parallel int
	cmd := &cobra.Command{
		Use:   "investigate [hostname]",
		Short: "Run a diagnostic investigation against a server or group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProfile(profile)
			if err != nil {
				return err
			}
			a, err := newApp(log)
			if err != nil {
				return err
			}
			defer a.tool.Shutdown()

			if groupName != "" {
				results, err := a.agent.InvestigateGroup(groupName, p, parallel)
				if err != nil {
					return err
				}
				out := make([]map[string]any, 0, len(results))
				for _, r := range results {
					out = append(out, r.ToMap())
				}
				return printJSON(out)
			}

			if len(args) == 0 {
				return fmt.Errorf("a hostname or --group is required")
			}
			server, err := a.inventory.FindServer(args[0])
			if err != nil {
				return err
			}
			result := a.agent.InvestigateServer(server, p)
			return printJSON(result.ToMap())
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "basic", "Investigation profile: basic, performance, or security")
	cmd.Flags().StringVar(&groupName, "group", "", "Investigate every server in this group")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "Worker count for group investigation (0 = configured default)")
	return cmd
}

func newReportCmd(log *zap.SugaredLogger) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "report <hostname>",
		Short: "Investigate a server and render the full report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProfile(profile)
			if err != nil {
				return err
			}
			a, err := newApp(log)
			if err != nil {
				return err
			}
			defer a.tool.Shutdown()

			server, err := a.inventory.FindServer(args[0])
			if err != nil {
				return err
			}
			investigation := a.agent.InvestigateServer(server, p)
			return printJSON(a.agent.GenerateInvestigationReport(investigation))
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "basic", "Investigation profile: basic, performance, or security")
	return cmd
}

func newGroupsCmd(log *zap.SugaredLogger) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List server groups from the inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(log)
			if err != nil {
				return err
			}
			defer a.tool.Shutdown()

			groups := a.agent.Groups()
			if tag != "" {
				groups = a.agent.GroupsByTag(tag)
			}
			return printJSON(groups)
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Only groups carrying this tag")
	return cmd
}

func newPoolStatsCmd(log *zap.SugaredLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "pool-stats",
		Short: "Show connection pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(log)
			if err != nil {
				return err
			}
			defer a.tool.Shutdown()
			return printJSON(a.tool.PoolStats())
		},
	}
}

func newHistoryCmd(log *zap.SugaredLogger) *cobra.Command {
	var limit int
	var investigations bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show execution or investigation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(log)
			if err != nil {
				return err
			}
			defer a.tool.Shutdown()

			if investigations {
				return printJSON(a.agent.InvestigationHistory(limit))
			}
			return printJSON(a.tool.ExecutionHistory(limit))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to show")
	cmd.Flags().BoolVar(&investigations, "investigations", false, "Show investigation history instead of executions")
	return cmd
}

// newPatrolCmd runs group investigations on a cron schedule until
// interrupted. Findings above the severity floor go to stderr as they
// are discovered.
func newPatrolCmd(log *zap.SugaredLogger) *cobra.Command {
	var profile string
	var schedule string
	cmd := &cobra.Command{
		Use:   "patrol <group>",
		Short: "Periodically investigate a group on a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProfile(profile)
			if err != nil {
				return err
			}
			a, err := newApp(log)
			if err != nil {
				return err
			}
			defer a.tool.Shutdown()

			groupName := args[0]
			if _, ok := a.agent.ServerGroup(groupName); !ok {
				return fmt.Errorf("server group %q not found", groupName)
			}

			sweep := func() {
				results, err := a.agent.InvestigateGroup(groupName, p, 0)
				if err != nil {
					log.Errorw("patrol sweep failed", "group", groupName, "error", err)
					return
				}
				for _, r := range results {
					for _, f := range r.Findings {
						if f.Severity == domain.SeverityHigh {
							fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", r.Server, f.IssueType, f.Description)
						}
					}
				}
				log.Infow("patrol sweep completed", "group", groupName, "servers", len(results))
			}

			c := cron.New()
			if _, err := c.AddFunc(schedule, sweep); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}
			sweep()
			c.Start()
			defer c.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "basic", "Investigation profile: basic, performance, or security")
	cmd.Flags().StringVar(&schedule, "schedule", "@every 10m", "Cron schedule for sweeps")
	return cmd
}

func secondsFlag(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
