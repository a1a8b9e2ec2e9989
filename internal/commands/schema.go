package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/callin2/agent-memory-sub006/internal/output"
)

// NewSchemaCmd emits machine-readable argument schemas for every command so
// agent callers can construct invocations without parsing help text. Wire it
// after the root command is fully assembled.
func NewSchemaCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print argument schemas for all commands as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var schemas []commandSchema
			collectSchemas(root, &schemas)

			type resp struct {
				Count    int             `json:"count"`
				Commands []commandSchema `json:"commands"`
			}
			return output.PrintSuccess(resp{Count: len(schemas), Commands: schemas})
		},
	}
}

type commandSchema struct {
	Command     string         `json:"command"`
	Description string         `json:"description,omitempty"`
	Args        map[string]any `json:"args_schema"`
}

func collectSchemas(cmd *cobra.Command, out *[]commandSchema) {
	// Only leaf commands are invokable operations.
	if !cmd.HasSubCommands() && !cmd.Hidden && cmd.Name() != "schema" {
		*out = append(*out, buildSchema(cmd))
	}
	for _, child := range cmd.Commands() {
		collectSchemas(child, out)
	}
}

func buildSchema(cmd *cobra.Command) commandSchema {
	properties := map[string]any{}
	var required []string
	seen := map[string]bool{}

	addFlag := func(f *pflag.Flag) {
		if f.Hidden || seen[f.Name] {
			return
		}
		seen[f.Name] = true

		prop := map[string]any{
			"type":        schemaFlagType(f.Value.Type()),
			"description": f.Usage,
		}
		if f.DefValue != "" && f.DefValue != "[]" {
			prop["default"] = schemaFlagDefault(f.Value.Type(), f.DefValue)
		}
		if enum := flagEnumValues(f.Usage); len(enum) > 0 {
			prop["enum"] = enum
		}
		properties[f.Name] = prop

		if strings.Contains(strings.ToLower(f.Usage), "(required)") {
			required = append(required, f.Name)
		}
	}

	cmd.InheritedFlags().VisitAll(addFlag)
	cmd.NonInheritedFlags().VisitAll(addFlag)

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return commandSchema{
		Command:     cmd.CommandPath(),
		Description: cmd.Short,
		Args:        schema,
	}
}

func schemaFlagType(flagType string) string {
	switch flagType {
	case "int", "int64", "int32", "uint", "uint64", "uint32":
		return "integer"
	case "float64", "float32":
		return "number"
	case "bool":
		return "boolean"
	case "stringSlice", "stringArray":
		return "array"
	default:
		return "string"
	}
}

func schemaFlagDefault(flagType, raw string) any {
	switch flagType {
	case "bool":
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	case "int", "int64", "int32", "uint", "uint64", "uint32":
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	case "float64", "float32":
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}

// flagEnumValues recovers "a|b|c" enumerations from usage strings of the form
// "Something: a|b|c".
func flagEnumValues(usage string) []string {
	idx := strings.Index(usage, ":")
	if idx < 0 {
		return nil
	}
	cand := strings.TrimSpace(usage[idx+1:])
	if !strings.Contains(cand, "|") {
		return nil
	}
	if i := strings.IndexAny(cand, " ("); i >= 0 {
		cand = cand[:i]
	}
	parts := strings.Split(cand, "|")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	if len(values) < 2 {
		return nil
	}
	return values
}
