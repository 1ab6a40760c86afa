package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"project-companion/internal/domain"
)

var inviteRole string

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "Manage who can work on the selected project",
}

var membersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List project members",
	Args:  cobra.NoArgs,
	RunE:  withApp(runMembersList),
}

var membersInviteCmd = &cobra.Command{
	Use:   "invite <username>",
	Short: "Invite a user to the project",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runMembersInvite),
}

var membersRoleCmd = &cobra.Command{
	Use:   "role <user-id> <owner|editor|viewer>",
	Short: "Change a member's role",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(runMembersRole),
}

var membersRemoveCmd = &cobra.Command{
	Use:   "remove <user-id>",
	Short: "Remove a member from the project",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runMembersRemove),
}

func init() {
	membersInviteCmd.Flags().StringVar(&inviteRole, "role", "editor", "role to grant (owner, editor, viewer)")
	membersCmd.AddCommand(membersListCmd, membersInviteCmd, membersRoleCmd, membersRemoveCmd)
	rootCmd.AddCommand(membersCmd)
}

func runMembersList(cmd *cobra.Command, a *app, _ []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	members, err := a.api.ListMembers(cmd.Context(), id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER ID\tUSERNAME\tNAME\tROLE")
	for _, m := range members {
		name := m.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.UserID, m.Username, name, roleLabel(m.Role))
	}
	return w.Flush()
}

func runMembersInvite(cmd *cobra.Command, a *app, args []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	role, err := domain.ParseProjectRole(inviteRole)
	if err != nil {
		return err
	}
	if err := requireRole(cmd, a, id, domain.PermMemberManage); err != nil {
		return err
	}
	m, err := a.api.InviteMember(cmd.Context(), id, domain.InviteMemberRequest{Username: args[0], Role: role})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Invited %s as %s.\n", m.Username, roleLabel(m.Role))
	return nil
}

func runMembersRole(cmd *cobra.Command, a *app, args []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	role, err := domain.ParseProjectRole(args[1])
	if err != nil {
		return err
	}
	if err := requireRole(cmd, a, id, domain.PermMemberManage); err != nil {
		return err
	}
	m, err := a.api.UpdateMemberRole(cmd.Context(), id, userID, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s.\n", m.Username, roleLabel(m.Role))
	return nil
}

func runMembersRemove(cmd *cobra.Command, a *app, args []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	if err := requireRole(cmd, a, id, domain.PermMemberManage); err != nil {
		return err
	}
	if err := a.api.RemoveMember(cmd.Context(), id, userID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed user %d.\n", userID)
	return nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: user id %q", domain.ErrInvalidInput, s)
	}
	return id, nil
}
