package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

var (
	schemaFor    string
	schemaOutput string
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate a JSON schema for a wire data type",
	Long: `schema generates a JSON schema for one of the pipeline data types
(frame or packet), useful for documenting the shape of decoded frames and
encoded packets for downstream consumers.

Examples:
  xcoderctl schema --for frame
  xcoderctl schema --for packet --output packet.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVar(&schemaFor, "for", "frame", "type to generate a schema for (frame|packet)")
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "output file (default: stdout)")
}

func runSchema(cmd *cobra.Command, args []string) error {
	var target any
	var title string
	switch schemaFor {
	case "frame":
		target, title = &session.Frame{}, "xcoder decode Frame"
	case "packet":
		target, title = &session.Packet{}, "xcoder encode Packet"
	default:
		return fmt.Errorf("unknown --for value %q (want frame|packet)", schemaFor)
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(target)
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = title

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
			return fmt.Errorf("write schema file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}
