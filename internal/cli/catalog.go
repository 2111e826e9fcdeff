package cli

import (
	"fmt"

	"github.com/Proton-105/reflect-bot/internal/prompts"
)

// CatalogCheckCmd validates a prompt catalog file.
type CatalogCheckCmd struct {
	File string `arg:"" type:"existingfile" help:"Catalog YAML file."`
}

func (c *CatalogCheckCmd) Run(ctx *Context) error {
	catalog, warnings, err := prompts.LoadCatalogFile(c.File)
	for _, w := range warnings {
		ctx.printf("warning: %s\n", w)
	}
	if err != nil {
		return fmt.Errorf("catalog %s is invalid: %w", c.File, err)
	}

	for _, category := range catalog.Categories() {
		ctx.printf("%-16s %d prompt(s)\n", category, len(catalog.Prompts(category)))
	}
	ctx.printf("OK: %d categories, %d prompts\n", len(catalog.Categories()), catalog.Size())

	return nil
}
