package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"circdesk/internal/clients"
	"circdesk/internal/membership"
	"circdesk/internal/policy"
)

func init() {
	rootCmd.AddCommand(registerCmd, loginCmd, meCmd, notificationsCmd, readCmd)

	registerCmd.Flags().String("email", "", "e-mail address used to log in")
	registerCmd.Flags().String("name", "", "display name")
	registerCmd.Flags().String("password", "", "password, at least 8 characters")
	registerCmd.Flags().String("class", string(policy.Standard), "account class: "+classNames())
	registerCmd.Flags().StringSlice("genre", nil, "favourite genre; repeat or comma-separate for several")
	_ = registerCmd.MarkFlagRequired("email")
	_ = registerCmd.MarkFlagRequired("password")

	loginCmd.Flags().String("password", "", "password")
	_ = loginCmd.MarkFlagRequired("password")

	notificationsCmd.Flags().Bool("unread", false, "only unread notifications")
}

func classNames() string {
	names := make([]string, len(policy.Classes))
	for i, c := range policy.Classes {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func membershipClient(cmd *cobra.Command) *clients.MembershipClient {
	return clients.NewMembershipClient(apiClient(cmd))
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new member",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")
	password, _ := cmd.Flags().GetString("password")
	rawClass, _ := cmd.Flags().GetString("class")
	genres, _ := cmd.Flags().GetStringSlice("genre")

	class, err := policy.ParseClass(rawClass)
	if err != nil {
		return err
	}
	m, err := membershipClient(cmd).RegisterMember(cmd.Context(), membership.NewMember{
		Email:          email,
		Name:           name,
		Password:       password,
		Class:          class,
		FavoriteGenres: genres,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s member %s (%s, %s)\n", successStyle.Render("Registered"), m.ID, m.Email, m.Class)
	return nil
}

var loginCmd = &cobra.Command{
	Use:   "login EMAIL",
	Short: "Log in and print a bearer token",
	Long: `Log in and print a bearer token. Export it as CIRCDESK_TOKEN or pass it with
--token to authenticate the other commands.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, _ := cmd.Flags().GetString("password")
	token, m, err := membershipClient(cmd).Login(cmd.Context(), args[0], password)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Logged in as %s (%s)\n", m.Name, m.ID)
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the member the token belongs to",
	Args:  cobra.NoArgs,
	RunE:  runMe,
}

func runMe(cmd *cobra.Command, args []string) error {
	m, err := membershipClient(cmd).Me(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), m)
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications PATRON_ID",
	Aliases: []string{"inbox"},
	Short:   "List a patron's notifications",
	Args:    cobra.ExactArgs(1),
	RunE:    runNotifications,
}

func runNotifications(cmd *cobra.Command, args []string) error {
	patronID, err := parseID("patron", args[0])
	if err != nil {
		return err
	}
	unread, _ := cmd.Flags().GetBool("unread")
	notes, err := membershipClient(cmd).Notifications(cmd.Context(), patronID, unread)
	if err != nil {
		return err
	}
	printNotifications(cmd.OutOrStdout(), notes)
	return nil
}

var readCmd = &cobra.Command{
	Use:   "read NOTIFICATION_ID",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	id, err := parseID("notification", args[0])
	if err != nil {
		return err
	}
	return membershipClient(cmd).MarkRead(cmd.Context(), id)
}
