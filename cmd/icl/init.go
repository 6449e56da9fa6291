package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/icl/config"
)

func initCmd(e *env, g *globalOptions) *cobra.Command {
	var user bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Prepare the project and write a default icl.yaml",
		Long: `Create the project layout (icl.json, iterations and docs folders) and write
icl.yaml with the default settings. Existing files are left untouched. With
--user the user config is created as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := NewApp(e, g)
			if err != nil {
				return err
			}

			loader := config.NewLoader(app.logger)
			loader.UserPath = e.userConfig
			path, created, err := loader.EnsureProjectConfig(app.workDir)
			if err != nil {
				return fmt.Errorf("write project config: %w", err)
			}
			app.reportConfig(path, created)

			if user {
				path, created, err := loader.EnsureUserConfig()
				if err != nil {
					return fmt.Errorf("write user config: %w", err)
				}
				app.reportConfig(path, created)
			}

			_, _ = fmt.Fprintf(e.stdout, "Project %s (%s) ready in %s\n", app.project.AppName, app.project.AppID, app.workDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "Also create the user config")
	return cmd
}

func (a *App) reportConfig(path string, created bool) {
	if created {
		_, _ = fmt.Fprintf(a.env.stdout, "Wrote %s\n", a.rel(path))
		return
	}
	_, _ = fmt.Fprintf(a.env.stdout, "Kept existing %s\n", a.rel(path))
}
