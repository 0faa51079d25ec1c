package main

import (
	"fmt"
	"strings"

	"github.com/nightshift/backend/internal/agentcli"
	"github.com/nightshift/backend/internal/app"
	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/sandbox"
	"github.com/spf13/cobra"
)

var mountsCmd = &cobra.Command{
	Use:   "mounts",
	Short: "Print the host directories discovered for registered tools",
	RunE:  runMounts,
}

var sandboxCmd = &cobra.Command{
	Use:   "sandbox-cmd <prompt>",
	Short: "Print the container command a task would run, without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSandboxCmd,
}

func init() {
	sandboxCmd.Flags().StringArray("mount", nil, "extra mount host[:container[:mode]] (repeatable)")
}

func newDiscoverer(cfg *config.Config) (*sandbox.Discoverer, error) {
	log, err := cliLogger(cfg)
	if err != nil {
		return nil, err
	}
	return sandbox.NewDiscoverer(sandbox.DiscovererConfig{
		Lister: agentcli.NewMCPLister(cfg.Sandbox.AgentBinary),
		Policy: sandbox.DefaultPathPolicy(),
		Logger: log,
	}), nil
}

func runMounts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := newDiscoverer(cfg)
	if err != nil {
		return err
	}
	dirs := d.Discover(cmd.Context())
	if len(dirs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tool directories to mount.")
		return nil
	}
	for _, dir := range dirs {
		fmt.Fprintln(cmd.OutOrStdout(), dir)
	}
	return nil
}

func runSandboxCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := cliLogger(cfg)
	if err != nil {
		return err
	}
	d, err := newDiscoverer(cfg)
	if err != nil {
		return err
	}
	b, err := app.NewBuilder(cfg, d, log)
	if err != nil {
		return err
	}

	mounts, err := app.ExtraMounts(cfg)
	if err != nil {
		return err
	}
	specs, _ := cmd.Flags().GetStringArray("mount")
	for _, spec := range specs {
		m, err := sandbox.ParseMountSpec(spec)
		if err != nil {
			return err
		}
		mounts = append(mounts, m)
	}

	task := &domain.Task{
		Description:  strings.Join(args, " "),
		AllowedTools: domain.StringList(cfg.Planner.DefaultTools),
	}
	inv, err := b.Build(cmd.Context(), sandbox.BuildInput{
		AgentArgs:        agentcli.TaskArgs(task),
		AdditionalMounts: mounts,
	})
	if err != nil {
		return err
	}
	defer inv.Cleanup()

	runner := sandbox.NewDockerRunner(cfg.Sandbox.Runtime, log)
	if !runner.ImageExists(cmd.Context(), cfg.Sandbox.Image) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: image %s is not present locally\n", cfg.Sandbox.Image)
	}

	parts := append([]string{cfg.Sandbox.Runtime}, inv.Args()...)
	for i, p := range parts {
		if strings.ContainsAny(p, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " "))
	return nil
}
