package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/athenaclew/athena/internal/knowledge"
)

var projectDescription string

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage debugging projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List this session's projects",
	RunE:  runProjectList,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project and switch to it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProjectCreate,
}

var projectUseCmd = &cobra.Command{
	Use:   "use <name or id>",
	Short: "Switch the current project",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProjectUse,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <name or id>",
	Short: "Delete a project and everything stored under it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProjectDelete,
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "", "project description")
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectUseCmd)
	projectCmd.AddCommand(projectDeleteCmd)
}

func runProjectList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.currentSession(cmd)
	if err != nil {
		return err
	}
	projects, err := a.sessions.ListProjects(cmd.Context(), sess.ID)
	if err != nil {
		return err
	}

	for _, p := range projects {
		marker := " "
		if p.ID == sess.CurrentProjectID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s\n", marker, p.ID, p.Name)
	}
	return nil
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.currentSession(cmd)
	if err != nil {
		return err
	}
	project, err := a.sessions.CreateProject(cmd.Context(), sess.ID, strings.Join(args, " "),
		knowledge.ProjectContext{Description: projectDescription})
	if err != nil {
		return err
	}
	fmt.Printf("Created and switched to %q (%s)\n", project.Name, project.ID)
	return nil
}

func runProjectUse(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.currentSession(cmd)
	if err != nil {
		return err
	}
	project, err := resolveProject(cmd, a, sess.ID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := a.sessions.SwitchProject(cmd.Context(), sess.ID, project.ID); err != nil {
		return err
	}
	fmt.Printf("Switched to %q\n", project.Name)
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.currentSession(cmd)
	if err != nil {
		return err
	}
	project, err := resolveProject(cmd, a, sess.ID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := a.sessions.DeleteProject(cmd.Context(), sess.ID, project.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted %q\n", project.Name)
	return nil
}

// resolveProject matches the argument against project ids first, then names.
func resolveProject(cmd *cobra.Command, a *app, sessionID, arg string) (*knowledge.Project, error) {
	projects, err := a.sessions.ListProjects(cmd.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].ID == arg {
			return &projects[i], nil
		}
	}
	for i := range projects {
		if strings.EqualFold(projects[i].Name, arg) {
			return &projects[i], nil
		}
	}
	return nil, fmt.Errorf("no project matching %q", arg)
}
