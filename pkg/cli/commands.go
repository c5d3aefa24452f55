package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/app"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply tenant, audit and resource migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withApp(ctx, func(a *app.App) error {
			if a.DB == nil {
				fmt.Fprintln(env.Out, "No database configured, nothing to migrate")
				return nil
			}
			if err := a.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "Migrations applied")
			return nil
		})
	}
	return cmd
}

func newTenantCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "tenant",
		Description: "Show a tenant and its members",
		Flags:       flag.NewFlagSet("tenant", flag.ContinueOnError),
	}
	id := cmd.Flags.String("id", "", "Tenant ID")
	slug := cmd.Flags.String("slug", "", "Tenant slug")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if (*id == "") == (*slug == "") {
			return fmt.Errorf("exactly one of --id or --slug is required")
		}

		return env.withApp(ctx, func(a *app.App) error {
			var (
				tenant *tenancy.Tenant
				err    error
			)
			if *id != "" {
				tenant, err = a.Directory.GetTenant(ctx, *id)
			} else {
				tenant, err = a.Directory.GetTenantBySlug(ctx, *slug)
			}
			if err != nil {
				return err
			}

			members, err := a.TenantStore.ListMembershipsByTenant(ctx, tenant.ID)
			if err != nil {
				return err
			}
			return env.printJSON(map[string]interface{}{
				"tenant":  tenant,
				"members": members,
			})
		})
	}
	return cmd
}

func newReassignCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "reassign",
		Description: "Move a resource to another tenant",
		Flags:       flag.NewFlagSet("reassign", flag.ContinueOnError),
	}
	entityType := cmd.Flags.String("type", "", "Entity type, e.g. project")
	resourceID := cmd.Flags.String("id", "", "Resource ID")
	from := cmd.Flags.String("from", "", "Current tenant ID")
	to := cmd.Flags.String("to", "", "Target tenant ID")
	actor := cmd.Flags.String("admin", "", "Acting user; must own both tenants")
	reason := cmd.Flags.String("reason", "", "Reason recorded in the audit trail")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *actor == "" || *reason == "" {
			return fmt.Errorf("--admin and --reason are required")
		}

		return env.withApp(ctx, func(a *app.App) error {
			result, err := a.Admin.ReassignResourceTenant(ctx, policy.ReassignRequest{
				EntityType:  *entityType,
				ResourceID:  *resourceID,
				FromTenant:  *from,
				ToTenant:    *to,
				ActingAdmin: *actor,
				Reason:      *reason,
			})
			if err != nil {
				return err
			}
			return env.printJSON(result)
		})
	}
	return cmd
}

func newReplayCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "replay-deadletters",
		Description: "Write dead-lettered audit entries back to the audit store",
		Flags:       flag.NewFlagSet("replay-deadletters", flag.ContinueOnError),
	}
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withApp(ctx, func(a *app.App) error {
			if a.DeadLetters == nil {
				return fmt.Errorf("no dead letter log configured")
			}
			result, err := a.ReplayDeadLetters(ctx)
			if err != nil {
				return err
			}
			return env.printJSON(result)
		})
	}
	return cmd
}

func newArchiveCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "archive-audit",
		Description: "Upload a tenant's audit trail to object storage",
		Flags:       flag.NewFlagSet("archive-audit", flag.ContinueOnError),
	}
	tenantID := cmd.Flags.String("tenant", "", "Tenant ID")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}

		return env.withApp(ctx, func(a *app.App) error {
			s3cfg := a.Config.Audit.Archive
			if s3cfg.Bucket == "" {
				return fmt.Errorf("no archive bucket configured")
			}
			client, err := env.NewS3(ctx, s3cfg)
			if err != nil {
				return err
			}
			result, err := audit.NewS3Archiver(a.AuditStore, client, s3cfg.Bucket, s3cfg.Prefix).ArchiveTenant(ctx, *tenantID)
			if err != nil {
				return err
			}
			return env.printJSON(result)
		})
	}
	return cmd
}

func newPlansCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "plans",
		Description: "Validate a plan catalog file and print its limits",
		Flags:       flag.NewFlagSet("plans", flag.ContinueOnError),
	}
	file := cmd.Flags.String("file", "", "Plan catalog YAML; empty prints the built-in plans")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		catalog, err := config.LoadPlanCatalog(*file)
		if err != nil {
			return err
		}

		fmt.Fprintf(env.Out, "%-12s %10s %13s\n", "TIER", "MAX_USERS", "MAX_PROJECTS")
		for _, tier := range catalog.Names() {
			limits, _ := catalog.Limits(tier)
			fmt.Fprintf(env.Out, "%-12s %10s %13s\n", tier, limitString(limits.MaxUsers), limitString(limits.MaxProjects))
		}
		return nil
	}
	return cmd
}

func limitString(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}
