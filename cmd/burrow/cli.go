package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/burrowq/burrow/pkg/command"
)

// addRegistryCommands generates one cobra command per registry entry so
// the CLI surface always matches the command layer.
func addRegistryCommands(root *cobra.Command) {
	for _, def := range command.NewRegistry().List() {
		root.AddCommand(buildCommand(def))
	}
}

func buildCommand(def *command.Command) *cobra.Command {
	var positional, options []command.Param
	for _, p := range def.Params {
		if p.Positional {
			positional = append(positional, p)
		} else {
			options = append(options, p)
		}
	}

	use := strings.ReplaceAll(def.Name, "_", "-")
	minArgs := 0
	for _, p := range positional {
		if p.Required {
			use += fmt.Sprintf(" <%s>", p.Name)
			minArgs++
		} else {
			use += fmt.Sprintf(" [%s]", p.Name)
		}
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: def.Description,
		Args:  cobra.RangeArgs(minArgs, len(positional)),
		RunE: func(c *cobra.Command, args []string) error {
			raw, err := collectArgs(c, positional, options, args)
			if err != nil {
				return err
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.registry.Dispatch(a.ctx, def.Name, raw)
			if flagJSON {
				out, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				if !res.Success {
					return fmt.Errorf("command failed")
				}
				return nil
			}

			if !res.Success {
				return fmt.Errorf("%s", res.Error)
			}
			if res.Message != "" {
				fmt.Println(res.Message)
			}
			if res.Data != nil {
				out, err := json.MarshalIndent(res.Data, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			}
			if res.AgentName != "" {
				fmt.Printf("Worker: %s\n", res.AgentName)
			}
			return nil
		},
	}

	for _, p := range options {
		flag := strings.ReplaceAll(p.Name, "_", "-")
		switch p.Type {
		case command.TypeNumber:
			cmd.Flags().Float64(flag, 0, p.Description)
		case command.TypeBoolean:
			cmd.Flags().Bool(flag, false, p.Description)
		case command.TypeArray:
			cmd.Flags().StringSlice(flag, nil, p.Description)
		default:
			cmd.Flags().String(flag, "", p.Description)
		}
	}
	return cmd
}

// collectArgs builds the raw argument map from positional args and
// changed flags; schema defaults are applied at dispatch.
func collectArgs(c *cobra.Command, positional, options []command.Param, args []string) (map[string]any, error) {
	raw := map[string]any{}

	for i, p := range positional {
		if i >= len(args) {
			break
		}
		value := args[i]
		if p.Type == command.TypeString {
			expanded, err := expandAt(value)
			if err != nil {
				return nil, err
			}
			value = expanded
		}
		raw[p.Name] = value
	}

	for _, p := range options {
		flag := strings.ReplaceAll(p.Name, "_", "-")
		if !c.Flags().Changed(flag) {
			continue
		}
		switch p.Type {
		case command.TypeNumber:
			v, _ := c.Flags().GetFloat64(flag)
			raw[p.Name] = v
		case command.TypeBoolean:
			v, _ := c.Flags().GetBool(flag)
			raw[p.Name] = v
		case command.TypeArray:
			v, _ := c.Flags().GetStringSlice(flag)
			raw[p.Name] = v
		default:
			v, _ := c.Flags().GetString(flag)
			expanded, err := expandAt(v)
			if err != nil {
				return nil, err
			}
			raw[p.Name] = expanded
		}
	}
	return raw, nil
}

// expandAt replaces @path values with the file's contents and @- with
// stdin
func expandAt(value string) (string, error) {
	if !strings.HasPrefix(value, "@") {
		return value, nil
	}
	if value == "@-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(value[1:])
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", value[1:], err)
	}
	return string(data), nil
}
