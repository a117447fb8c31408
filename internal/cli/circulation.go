package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"circdesk/internal/circulation"
	"circdesk/internal/clients"
)

func init() {
	rootCmd.AddCommand(borrowCmd, returnCmd, reserveCmd, cancelCmd, renewCmd)
	rootCmd.AddCommand(loansCmd, accountCmd, itemCmd, statusCmd, topCmd, sweepCmd)

	renewCmd.Flags().Int("days", 0, "days to extend by (default: the server's renewal period)")
	loansCmd.Flags().String("patron", "", "only loans of this patron, including returned ones")
	loansCmd.Flags().Bool("overdue", false, "only overdue loans")
	loansCmd.Flags().String("as-of", "", "date the overdue check uses, YYYY-MM-DD (default: today)")
	loansCmd.Flags().Bool("json", false, "print JSON instead of a table")
	accountCmd.Flags().Bool("json", false, "print JSON")
	itemCmd.Flags().Bool("json", false, "print JSON")
	topCmd.Flags().IntP("limit", "n", 10, "how many items to list")
}

func circulationClient(cmd *cobra.Command) *clients.CirculationClient {
	return clients.NewCirculationClient(apiClient(cmd))
}

// ─── loans ──────────────────────────────────────────────────────────────────

var borrowCmd = &cobra.Command{
	Use:   "borrow PATRON_ID ITEM_ID",
	Short: "Check an item out to a patron",
	Args:  cobra.ExactArgs(2),
	RunE:  runBorrow,
}

func runBorrow(cmd *cobra.Command, args []string) error {
	patronID, itemID, err := patronAndItem(args)
	if err != nil {
		return err
	}
	loan, err := circulationClient(cmd).Borrow(cmd.Context(), patronID, itemID)
	if err != nil {
		return err
	}
	printLoan(cmd.OutOrStdout(), "Opened", loan)
	return nil
}

var returnCmd = &cobra.Command{
	Use:   "return PATRON_ID ITEM_ID",
	Short: "Check an item back in and charge any late fee",
	Args:  cobra.ExactArgs(2),
	RunE:  runReturn,
}

func runReturn(cmd *cobra.Command, args []string) error {
	patronID, itemID, err := patronAndItem(args)
	if err != nil {
		return err
	}
	loan, err := circulationClient(cmd).Return(cmd.Context(), patronID, itemID)
	if err != nil {
		return err
	}
	printLoan(cmd.OutOrStdout(), "Closed", loan)
	return nil
}

var renewCmd = &cobra.Command{
	Use:   "renew LOAN_ID",
	Short: "Extend an open loan",
	Long:  `Extend an open loan's due date. Loans cannot be renewed while anybody is waiting for the item.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRenew,
}

func runRenew(cmd *cobra.Command, args []string) error {
	loanID, err := parseID("loan", args[0])
	if err != nil {
		return err
	}
	days, _ := cmd.Flags().GetInt("days")
	loan, err := circulationClient(cmd).Renew(cmd.Context(), loanID, days)
	if err != nil {
		return err
	}
	printLoan(cmd.OutOrStdout(), "Renewed", loan)
	return nil
}

var loansCmd = &cobra.Command{
	Use:   "loans",
	Short: "List open loans",
	Args:  cobra.NoArgs,
	RunE:  runLoans,
}

func runLoans(cmd *cobra.Command, args []string) error {
	c := circulationClient(cmd)
	patron, _ := cmd.Flags().GetString("patron")
	overdue, _ := cmd.Flags().GetBool("overdue")
	asOf, _ := cmd.Flags().GetString("as-of")
	asJSON, _ := cmd.Flags().GetBool("json")

	var (
		loans []circulation.Loan
		err   error
	)
	switch {
	case patron != "" && overdue:
		return fmt.Errorf("--patron and --overdue cannot be combined")
	case patron != "":
		patronID, perr := parseID("patron", patron)
		if perr != nil {
			return perr
		}
		loans, err = c.LoansFor(cmd.Context(), patronID)
	case overdue:
		loans, err = c.OverdueLoans(cmd.Context(), asOf)
	default:
		loans, err = c.OpenLoans(cmd.Context())
	}
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), loans)
	}
	printLoans(cmd.OutOrStdout(), loans)
	return nil
}

// ─── reservations ───────────────────────────────────────────────────────────

var reserveCmd = &cobra.Command{
	Use:   "reserve PATRON_ID ITEM_ID",
	Short: "Join an item's reservation queue",
	Args:  cobra.ExactArgs(2),
	RunE:  runReserve,
}

func runReserve(cmd *cobra.Command, args []string) error {
	patronID, itemID, err := patronAndItem(args)
	if err != nil {
		return err
	}
	r, err := circulationClient(cmd).Reserve(cmd.Context(), patronID, itemID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s item %s, position %d in the queue (item is %s)\n",
		successStyle.Render("Reserved"), r.ItemID, r.Position, r.Status)
	return nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel PATRON_ID ITEM_ID",
	Short: "Leave an item's reservation queue",
	Args:  cobra.ExactArgs(2),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	patronID, itemID, err := patronAndItem(args)
	if err != nil {
		return err
	}
	if err := circulationClient(cmd).CancelReservation(cmd.Context(), patronID, itemID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s reservation on item %s\n", successStyle.Render("Cancelled"), itemID)
	return nil
}

// ─── accounts and items ─────────────────────────────────────────────────────

var accountCmd = &cobra.Command{
	Use:   "account PATRON_ID",
	Short: "Show a patron's loans, reservations and balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccount,
}

func runAccount(cmd *cobra.Command, args []string) error {
	patronID, err := parseID("patron", args[0])
	if err != nil {
		return err
	}
	acct, err := circulationClient(cmd).Account(cmd.Context(), patronID)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(w, acct)
	}
	fmt.Fprintln(w, titleStyle.Render("Patron "+acct.PatronID.String()))
	fmt.Fprintf(w, "  class:          %s\n", acct.Class)
	fmt.Fprintf(w, "  balance:        %s\n", acct.Balance)
	fmt.Fprintf(w, "  total borrowed: %d\n", acct.TotalBorrowed)
	fmt.Fprintf(w, "  open loans:     %d\n", len(acct.ActiveLoans))
	for itemID, loanID := range acct.ActiveLoans {
		fmt.Fprintf(w, "    item %s %s\n", itemID, mutedStyle.Render("loan "+loanID.String()))
	}
	fmt.Fprintf(w, "  reservations:   %d\n", len(acct.Reservations))
	for itemID, at := range acct.Reservations {
		fmt.Fprintf(w, "    item %s %s\n", itemID, mutedStyle.Render("since "+day(at)))
	}
	return nil
}

var itemCmd = &cobra.Command{
	Use:   "item ITEM_ID",
	Short: "Show an item's status, queue and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runItem,
}

func runItem(cmd *cobra.Command, args []string) error {
	itemID, err := parseID("item", args[0])
	if err != nil {
		return err
	}
	it, err := circulationClient(cmd).Item(cmd.Context(), itemID)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(w, it)
	}
	fmt.Fprintln(w, titleStyle.Render("Item "+it.ID.String()))
	fmt.Fprintf(w, "  status:   %s\n", it.Status)
	fmt.Fprintf(w, "  borrowed: %d times\n", it.BorrowCount)
	if it.Hold != nil {
		fmt.Fprintf(w, "  held for: %s until %s\n", it.Hold.PatronID, day(it.Hold.Until))
	}
	for i, p := range it.Queue {
		fmt.Fprintf(w, "  queue %d:  %s\n", i+1, p)
	}
	rows := make([][]string, 0, len(it.History))
	for _, h := range it.History {
		rows = append(rows, []string{h.At.Format("2006-01-02 15:04"), h.Action, h.PatronID.String()})
	}
	renderTable(w, []string{"AT", "ACTION", "PATRON"}, rows)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status ITEM_ID STATUS",
	Short: "Override an item's status",
	Long: `Mark an item lost, damaged or under maintenance, or put it back into circulation
with 'available'. Taking an item out of circulation cancels its reservations.`,
	Args: cobra.ExactArgs(2),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	itemID, err := parseID("item", args[0])
	if err != nil {
		return err
	}
	status, ok := circulation.ParseStatus(args[1])
	if !ok {
		return fmt.Errorf("unknown status %q", args[1])
	}
	it, err := circulationClient(cmd).SetStatus(cmd.Context(), itemID, status)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Item %s is now %s\n", it.ID, successStyle.Render(string(it.Status)))
	return nil
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "List the most borrowed items",
	Args:  cobra.NoArgs,
	RunE:  runTop,
}

func runTop(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("limit")
	top, err := circulationClient(cmd).TopBorrowed(cmd.Context(), n)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(top))
	for i, bc := range top {
		rows = append(rows, []string{strconv.Itoa(i + 1), bc.ItemID.String(), strconv.Itoa(bc.Count)})
	}
	renderTable(cmd.OutOrStdout(), []string{"#", "ITEM", "BORROWS"}, rows)
	return nil
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the due-date sweep now",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	rep, err := circulationClient(cmd).Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "due soon: %d, overdue: %d, holds expired: %d\n", rep.DueSoon, rep.Overdue, rep.HoldsExpired)
	return nil
}
