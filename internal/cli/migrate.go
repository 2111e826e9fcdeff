package cli

import (
	"errors"
	"strings"
)

// MigrateCmd applies pending schema migrations.
type MigrateCmd struct {
	Status bool `help:"Only list pending migrations."`
}

func (c *MigrateCmd) Run(ctx *Context) error {
	rt, err := ctx.runtime()
	if err != nil {
		return err
	}
	if rt.Migrator == nil {
		return errors.New("storage driver has no schema to migrate")
	}

	if c.Status {
		pending, err := rt.Migrator.Pending(ctx.Ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			ctx.printf("Schema is up to date\n")
			return nil
		}
		ctx.printf("Pending: %s\n", strings.Join(pending, ", "))
		return nil
	}

	applied, err := rt.Migrator.Apply(ctx.Ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		ctx.printf("Schema is up to date\n")
		return nil
	}
	ctx.printf("Applied: %s\n", strings.Join(applied, ", "))

	return nil
}
