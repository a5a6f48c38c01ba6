package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patina-fw/dxecore/internal/collab/simulate"
	"github.com/patina-fw/dxecore/pkg/config"
)

var (
	validateManifestPath string
	validateSchemaOutput string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a firmware-volume manifest, or print its JSON schema",
	Long: `Validate the firmware-volume manifest this core would boot against:
parses it the same way "dxecore run" does and reports every file and
section it describes, or any parse error along the way.

Examples:
  # Validate the manifest named in configuration
  dxecore validate

  # Validate a specific manifest file
  dxecore validate --manifest ./testdata/boot.yaml

  # Print the manifest's JSON schema instead of validating
  dxecore validate --schema --output manifest.schema.json`,
	RunE: runValidate,
}

var validateSchema bool

func init() {
	validateCmd.Flags().StringVar(&validateManifestPath, "manifest", "", "Manifest file to validate (default: simulation.manifest_path from configuration)")
	validateCmd.Flags().BoolVar(&validateSchema, "schema", false, "Print the manifest JSON schema instead of validating a file")
	validateCmd.Flags().StringVarP(&validateSchemaOutput, "output", "o", "", "Output file for --schema (default: stdout)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if validateSchema {
		return runValidateSchema(cmd)
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	path := validateManifestPath
	if path == "" {
		path = cfg.Simulation.ManifestPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	m, err := simulate.ParseManifest(data)
	if err != nil {
		fmt.Printf("Manifest:   %s\n", path)
		fmt.Println("Validation: FAILED")
		fmt.Printf("\nError: %v\n", err)
		return err
	}

	var warnings []string
	if len(m.Files) == 0 {
		warnings = append(warnings, "manifest declares no files - dispatch will have nothing to do")
	}

	fmt.Printf("Manifest:   %s\n", path)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nFiles: %d\n", len(m.Files))
	for _, f := range m.Files {
		fmt.Printf("  - %s (%s), %d section(s)\n", f.Name, f.Type, len(f.Sections))
	}

	return nil
}

func runValidateSchema(cmd *cobra.Command) error {
	schema := simulate.Schema()
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}

	if validateSchemaOutput != "" {
		if err := os.WriteFile(validateSchemaOutput, schemaJSON, 0644); err != nil {
			return fmt.Errorf("write schema file: %w", err)
		}
		fmt.Printf("JSON schema written to %s\n", validateSchemaOutput)
		return nil
	}

	fmt.Println(string(schemaJSON))
	return nil
}
