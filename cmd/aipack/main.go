// Command aipack is the CLI entry point: it wires the Store, Hub,
// Runtime Context, AI-client Router, pack locator, agent loader, Engine
// and Executor together and exposes the leaf commands of spec §6's CLI
// surface through cobra, mirroring vanducng-goclaw's root-command /
// subcommand-factory shape.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/spf13/cobra"

	"github.com/aipack-run/aipack/runtime/agentloader"
	"github.com/aipack-run/aipack/runtime/aiclient"
	"github.com/aipack-run/aipack/runtime/aiclient/anthropic"
	"github.com/aipack-run/aipack/runtime/aiclient/bedrock"
	"github.com/aipack-run/aipack/runtime/aiclient/openai"
	"github.com/aipack-run/aipack/runtime/config"
	"github.com/aipack-run/aipack/runtime/engine"
	"github.com/aipack-run/aipack/runtime/executor"
	"github.com/aipack-run/aipack/runtime/hub"
	"github.com/aipack-run/aipack/runtime/packstore"
	"github.com/aipack-run/aipack/runtime/pathresolve"
	"github.com/aipack-run/aipack/runtime/rtctx"
	"github.com/aipack-run/aipack/runtime/scripthost"
	"github.com/aipack-run/aipack/runtime/store"
	"github.com/aipack-run/aipack/runtime/telemetry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aipack",
		Short: "Run markdown-defined AI agents",
		Long:  "AIPack drives self-contained .aip agent files through their Before-All/Data/Output/After-All pipeline against a remote LLM provider.",
	}
	cmd.AddCommand(runCmd())
	cmd.AddCommand(initCmd())
	cmd.AddCommand(initBaseCmd())
	cmd.AddCommand(listCmd())
	cmd.AddCommand(packCmd())
	cmd.AddCommand(installCmd())
	cmd.AddCommand(checkKeysCmd())
	cmd.AddCommand(selfCmd())
	return cmd
}

// runCmd implements `run <agent-or-pack-ref> [-f glob]* [-i str]*
// [--dry req|res] [-v] [-s]` (spec §6), routed to CmdRun(RunArgs).
func runCmd() *cobra.Command {
	var fileGlobs []string
	var inputStrs []string
	var dryMode string
	var verbose bool
	var silent bool

	cmd := &cobra.Command{
		Use:   "run <agent-or-pack-ref>",
		Short: "Run an agent against its inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryMode != "" && dryMode != "req" && dryMode != "res" {
				return fmt.Errorf("--dry must be %q or %q", "req", "res")
			}
			inputs, err := gatherInputs(fileGlobs, inputStrs)
			if err != nil {
				return err
			}
			if verbose && !silent {
				fmt.Fprintf(os.Stderr, "aipack: running %s with %d input(s)\n", args[0], len(inputs))
			}
			x, cleanup, err := buildExecutor(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := x.CmdRun(executor.RunArgs{AgentRef: args[0], Inputs: inputs, DryMode: dryMode})
			if err != nil {
				return err
			}
			if !silent {
				fmt.Println(res.Value.Str)
			}
			if res.EndState == store.EndErr {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&fileGlobs, "file", "f", nil, "glob of input files (repeatable)")
	cmd.Flags().StringArrayVarP(&inputStrs, "input", "i", nil, "literal string input (repeatable)")
	cmd.Flags().StringVar(&dryMode, "dry", "", `dry-run mode: "req" or "res"`)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().BoolVarP(&silent, "silent", "s", false, "suppress output")
	return cmd
}

func gatherInputs(fileGlobs, inputStrs []string) ([]scripthost.Value, error) {
	var inputs []scripthost.Value
	for _, g := range fileGlobs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return nil, fmt.Errorf("aipack: bad -f glob %q: %w", g, err)
		}
		for _, m := range matches {
			b, err := os.ReadFile(m)
			if err != nil {
				return nil, fmt.Errorf("aipack: read %s: %w", m, err)
			}
			inputs = append(inputs, scripthost.Str(string(b)))
		}
	}
	for _, s := range inputStrs {
		inputs = append(inputs, scripthost.Str(s))
	}
	return inputs, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .aipack/ in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return os.MkdirAll(filepath.Join(".", ".aipack", "support"), 0o755)
		},
	}
}

func initBaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-base",
		Short: "Create the base ~/.aipack-base/ directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := defaultBaseDir()
			if err != nil {
				return err
			}
			return os.MkdirAll(filepath.Join(base, "pack", "installed"), 0o755)
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed packs",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := defaultBaseDir()
			if err != nil {
				return err
			}
			root := filepath.Join(base, "pack", "installed")
			entries, err := os.ReadDir(root)
			if os.IsNotExist(err) {
				return nil
			}
			if err != nil {
				return err
			}
			for _, ns := range entries {
				if !ns.IsDir() {
					continue
				}
				packs, _ := os.ReadDir(filepath.Join(root, ns.Name()))
				for _, p := range packs {
					if p.IsDir() {
						fmt.Printf("%s@%s\n", ns.Name(), p.Name())
					}
				}
			}
			return nil
		},
	}
}

func packCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <dir>",
		Short: "Bundle a directory into a pack archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("aipack: pack bundling is not implemented in this build")
		},
	}
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <ns@pack>",
		Short: "Install a pack into the base directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("aipack: pack installation is not implemented in this build")
		},
	}
}

func checkKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-keys",
		Short: "Report which provider API keys are set",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "AWS_ACCESS_KEY_ID"} {
				status := "missing"
				if os.Getenv(k) != "" {
					status = "set"
				}
				fmt.Printf("%-20s %s\n", k, status)
			}
			return nil
		},
	}
}

func selfCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "self", Short: "Manage the aipack binary itself"}
	cmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "First-time setup (creates base dir)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initBaseCmd().RunE(cmd, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Update the aipack binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("aipack: self-update is not implemented in this build")
		},
	})
	return cmd
}

func defaultBaseDir() (string, error) {
	if b := os.Getenv("AIPACK_BASE_DIR"); b != "" {
		return b, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aipack-base"), nil
}

// buildExecutor assembles the full dependency graph for one CLI
// invocation: Store, Hub, Resolver, AI Router, AgentLoader, Engine,
// Executor. The returned cleanup closes the Hub's embedded NATS server.
func buildExecutor(ctx context.Context) (*executor.Executor, func(), error) {
	workspaceDir, err := findWorkspaceDir()
	if err != nil {
		return nil, nil, err
	}
	baseDir, err := defaultBaseDir()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(workspaceDir, baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("aipack: load config: %w", err)
	}

	st, err := store.Open()
	if err != nil {
		return nil, nil, err
	}
	h, err := hub.New()
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	cleanup := func() { h.Close(); st.Close() }

	session, err := st.CreateSession(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	packs := packstore.New(workspaceDir, baseDir)
	resolver, err := pathresolve.New(workspaceDir, baseDir, session.UID, "", packs)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	loader := agentloader.New(resolver, packs, cfg.Merged())

	ai, err := buildAIRouter()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger := telemetry.NewClueLogger()
	logger.Info(ctx, "session started", "session_uid", session.UID, "workspace", workspaceDir, "base", baseDir)

	base := rtctx.New(st, h, resolver, ai, scripthost.New, nil, *session, 0, "")
	eng := engine.New(st, h)
	base.SendSub = makeSendSub(eng, loader, base)

	x := executor.New(base, loader, eng)
	x.Start(ctx)
	return x, cleanup, nil
}

// makeSendSub wires rtctx.SubAgentSender to the Engine directly (spec
// §4.10.3): a sub-agent call resolves its agent reference relative to
// the running agent's directory and blocks on a fresh nested Engine.Run
// over a copy of base (its Store/Hub/AI and base's own cancellation
// token, not the running parent's). executor.New later replaces
// base.SendSub with the Executor's RunSubAgent.
func makeSendSub(eng *engine.Engine, loader *agentloader.Loader, base *rtctx.Ctx) rtctx.SubAgentSender {
	return func(parentRunID int64, relativeTo string, name string, opts scripthost.Value) (scripthost.Value, error) {
		agent, err := loader.Load(name, relativeTo)
		if err != nil {
			return scripthost.Nil, err
		}
		inputs := subAgentInputs(opts)
		childRc := *base
		res, err := eng.Run(context.Background(), &childRc, &parentRunID, agent, inputs, nil)
		if err != nil {
			return scripthost.Nil, err
		}
		return res.Value, nil
	}
}

func subAgentInputs(opts scripthost.Value) []scripthost.Value {
	if opts.Map == nil {
		return nil
	}
	if v, ok := opts.Map["inputs"]; ok {
		return v.Array
	}
	return nil
}

func findWorkspaceDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := wd
	for {
		if info, err := os.Stat(filepath.Join(dir, ".aipack")); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd, nil
		}
		dir = parent
	}
}

// buildAIRouter assembles an aiclient.Router over whichever providers
// have credentials configured in the environment (spec §6 "API keys...
// consumed only by the AI Client").
func buildAIRouter() (aiclient.Client, error) {
	adapters := map[string]aiclient.Client{}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c, err := anthropic.NewFromAPIKey(key, "claude-3-5-sonnet-latest")
		if err != nil {
			return nil, err
		}
		adapters["anthropic"] = c
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c, err := openai.NewFromAPIKey(key, "gpt-4o-mini")
		if err != nil {
			return nil, err
		}
		adapters["openai"] = c
	}
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" || os.Getenv("AWS_PROFILE") != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("aipack: load AWS config: %w", err)
		}
		c, err := bedrock.New(bedrockruntime.NewFromConfig(awsCfg), "anthropic.claude-3-5-sonnet-20241022-v2:0")
		if err != nil {
			return nil, err
		}
		adapters["bedrock"] = c
	}

	var fallback aiclient.Client
	for _, c := range adapters {
		fallback = c
		break
	}
	return aiclient.NewRouter(adapters, fallback), nil
}
