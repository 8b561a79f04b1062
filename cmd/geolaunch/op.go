package main

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/mpataki/geolaunch/internal/config"
	"github.com/mpataki/geolaunch/internal/dispatch"
	"github.com/mpataki/geolaunch/internal/models"
)

// newOpCommand registers one subcommand per operation, with one string
// flag per parameter. Only flags given on the command line are submitted.
// An operation can also be named by its display name split over several
// words, e.g. `op Buffer Analysis --input-file a.shp`.
func newOpCommand(cfg *config.Config, ops []models.OperationDescriptor) *cobra.Command {
	subs := make(map[string]*cobra.Command)

	opCmd := &cobra.Command{
		Use:   "op <operation> [--<parameter> value ...]",
		Short: "Run one operation without the TUI",
		// Flags belong to the operation, which is not known until the name
		// words are read.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			words, rest := splitName(args)
			if len(words) == 0 {
				return cmd.Help()
			}

			op, err := findOperation(ops, strings.Join(words, " "))
			if err != nil {
				return fmt.Errorf("%w; run `geolaunch list` for the op <slug> of each operation", err)
			}
			sub, ok := subs[slugify(op.Name)]
			if !ok {
				return fmt.Errorf("no command for %q; use op <slug>", op.Name)
			}
			return runSubcommand(cmd, sub, rest)
		},
	}

	for _, op := range ops {
		sub := newOperationCommand(cfg, ops, op)
		subs[sub.Name()] = sub
		opCmd.AddCommand(sub)
	}

	return opCmd
}

// splitName separates the leading non-flag words from the flags after them.
func splitName(args []string) (words, rest []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return args[:i], args[i:]
		}
	}
	return args, nil
}

// runSubcommand parses rest as sub's flags and runs it with the parent's
// context.
func runSubcommand(parent, sub *cobra.Command, rest []string) error {
	sub.InitDefaultHelpFlag()
	if err := sub.ParseFlags(rest); err != nil {
		return err
	}
	if help, _ := sub.Flags().GetBool("help"); help {
		return sub.Help()
	}
	if err := sub.ValidateArgs(sub.Flags().Args()); err != nil {
		return err
	}
	sub.SetContext(parent.Context())
	return sub.RunE(sub, sub.Flags().Args())
}

func newOperationCommand(cfg *config.Config, ops []models.OperationDescriptor, op models.OperationDescriptor) *cobra.Command {
	flagNames := parameterFlags(op)

	cmd := &cobra.Command{
		Use:     slugify(op.Name),
		Aliases: []string{op.Name},
		Short:   op.Description,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := inputsFromFlags(cmd, op, flagNames)

			a, err := buildApp(cmd, cfg, ops, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.dispatcher.Run(cmd.Context(), op.Name, in)
			if result != nil {
				fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
				fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
			}
			if err != nil {
				return err
			}

			a.logger.Info(dispatch.Notice(op.Name, result, nil))
			return nil
		},
	}

	for i, p := range op.Parameters {
		usage := p.Help
		if usage == "" {
			usage = p.Label
		}
		if p.Placeholder != "" {
			usage += fmt.Sprintf(" (e.g. %s)", p.Placeholder)
		}
		cmd.Flags().String(flagNames[i], "", usage)
	}

	return cmd
}

// inputsFromFlags builds the submission from the flags that were set. A
// flag given as --x="" is provided-but-empty, not unset.
func inputsFromFlags(cmd *cobra.Command, op models.OperationDescriptor, flagNames []string) models.InputValue {
	in := make(models.InputValue)
	for i, p := range op.Parameters {
		if !cmd.Flags().Changed(flagNames[i]) {
			continue
		}
		v, _ := cmd.Flags().GetString(flagNames[i])
		in[p.Label] = v
	}
	return in
}

// parameterFlags names each parameter's flag, suffixing a position when two
// labels slug to the same name.
func parameterFlags(op models.OperationDescriptor) []string {
	names := make([]string, len(op.Parameters))
	seen := make(map[string]bool)
	for i, p := range op.Parameters {
		name := slugify(p.Label)
		if name == "" || seen[name] || reservedFlags[name] {
			name = fmt.Sprintf("%sparam-%d", prefixed(name), i+1)
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

var reservedFlags = map[string]bool{
	"help":         true,
	"timeout":      true,
	"fail-on-exit": true,
	"scripts-dir":  true,
	"log-level":    true,
}

func prefixed(name string) string {
	if name == "" {
		return ""
	}
	return name + "-"
}

// slugify lowercases s and joins its alphanumeric runs with dashes.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
