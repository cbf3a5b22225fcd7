package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openstratus/stratus/pkg/catalog"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate service template files",
		Long: `Validate service template YAML documents against the embedded
template schema.

Each path may be a template file or a directory; directories are
scanned for .yaml and .yml files.`,
		Example: `  # Validate one template
  stratus validate templates/vault.yaml

  # Validate a whole directory
  stratus validate templates/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args)
		},
	}

	return cmd
}

func runValidate(paths []string) error {
	parser, err := catalog.NewParser()
	if err != nil {
		return err
	}

	files, err := collectTemplateFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no template files found under %s", strings.Join(paths, ", "))
	}

	failed := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		tmpl, err := parser.Parse(data)
		if err != nil {
			failed++
			fmt.Printf("FAIL  %s\n      %v\n", file, err)
			continue
		}
		fmt.Printf("OK    %s (%s, csp %s)\n", file, tmpl.Key(), tmpl.Csp)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d template(s) invalid", failed, len(files))
	}
	return nil
}

func collectTemplateFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := filepath.Ext(p)
			if ext == ".yaml" || ext == ".yml" {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
