// Package cli exposes the analyzers as offline commands. Nothing here
// touches the network or persists state.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"walletguard-lab/internal/domain/models"
	"walletguard-lab/internal/domain/services"
)

// ErrRiskThreshold is returned when a verdict reaches the --fail-on level
var ErrRiskThreshold = errors.New("risk threshold reached")

// AddCommands registers the analyzer commands on root
func AddCommands(root *cobra.Command) {
	engine := services.NewEngine()

	var failOn string
	root.PersistentFlags().StringVar(&failOn, "fail-on", "", "exit non-zero when the verdict is at least this level (warning, critical)")

	check := func(level models.RiskLevel) error {
		if failOn == "" {
			return nil
		}
		threshold, err := models.ParseRiskLevel(failOn)
		if err != nil {
			return err
		}
		if level.AtLeast(threshold) {
			return fmt.Errorf("%w: %s", ErrRiskThreshold, level)
		}
		return nil
	}

	root.AddCommand(newDomainCmd(engine))
	root.AddCommand(newSignCmd(engine, check))
	root.AddCommand(newApprovalCmd(engine, check))
	root.AddCommand(newDecodeCmd(engine))
	root.AddCommand(newScanCmd(engine, check))
	root.AddCommand(newGitHubCmd())
	root.AddCommand(newThreatsCmd(engine))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file argument, or stdin for "-"
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func newDomainCmd(engine *services.Engine) *cobra.Command {
	return &cobra.Command{
		Use:   "domain <name>",
		Short: "Check a domain against the whitelist and scam patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), engine.Resolver.Resolve(args[0]))
		},
	}
}

func newSignCmd(engine *services.Engine, check func(models.RiskLevel) error) *cobra.Command {
	var (
		domain  string
		message string
		file    string
		preview bool
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Analyze a signing request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				content, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				message = content
			}
			if preview {
				return writeJSON(cmd.OutOrStdout(), services.FormatSigningRequest(message))
			}
			verdict := engine.Signing.Analyze(domain, message)
			if err := writeJSON(cmd.OutOrStdout(), verdict); err != nil {
				return err
			}
			return check(verdict.RiskLevel)
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "requesting dApp domain")
	cmd.Flags().StringVar(&message, "message", "", "message to be signed")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the message from a file, or - for stdin")
	cmd.Flags().BoolVar(&preview, "preview", false, "print the display preview instead of a verdict")
	return cmd
}

func newApprovalCmd(engine *services.Engine, check func(models.RiskLevel) error) *cobra.Command {
	var spender, amount, token string
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Analyze an ERC-20 approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict, err := engine.Approvals.Analyze(spender, amount, token)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), verdict); err != nil {
				return err
			}
			return check(verdict.RiskLevel)
		},
	}
	cmd.Flags().StringVar(&spender, "spender", "", "spender address")
	cmd.Flags().StringVar(&amount, "amount", "", "approved amount, decimal or 0x hex")
	cmd.Flags().StringVar(&token, "token", "", "token contract address")
	_ = cmd.MarkFlagRequired("spender")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newDecodeCmd(engine *services.Engine) *cobra.Command {
	var approvalOnly bool
	cmd := &cobra.Command{
		Use:   "decode <calldata>",
		Short: "Decode transaction calldata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := strings.TrimSpace(args[0])
			if approvalOnly {
				decoded, err := engine.Approvals.DecodeApproval(data)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), decoded)
			}
			call, err := engine.Approvals.DecodeCalldata(data)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), call)
		},
	}
	cmd.Flags().BoolVar(&approvalOnly, "approval", false, "require an approve(spender, amount) call")
	return cmd
}

func newScanCmd(engine *services.Engine, check func(models.RiskLevel) error) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <file|->",
		Short: "Scan contract source for risky patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			result := engine.Scanner.Scan(source)
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return check(result.RiskLevel)
		},
	}
}

func newGitHubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "github <url>",
		Short: "Extract owner and repository from a GitHub URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), services.ParseGitHubURL(args[0]))
		},
	}
}

func newThreatsCmd(engine *services.Engine) *cobra.Command {
	return &cobra.Command{
		Use:   "threats",
		Short: "List built-in domain threat patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, t := range engine.Registry.Threats() {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", t.Name, t.Severity, t.PatternString(), t.Description)
			}
			return nil
		},
	}
}
