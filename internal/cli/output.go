package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	jsoniter "github.com/json-iterator/go"

	"circdesk/internal/circulation"
	"circdesk/internal/notify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func renderTable(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("(none)"))
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

func day(t time.Time) string { return t.Format(time.DateOnly) }

func printLoans(w io.Writer, loans []circulation.Loan) {
	rows := make([][]string, 0, len(loans))
	for _, l := range loans {
		returned := "-"
		if l.ReturnedAt != nil {
			returned = day(*l.ReturnedAt)
		}
		rows = append(rows, []string{
			l.ID.String(), l.PatronID.String(), l.ItemID.String(),
			day(l.DueDate), returned, l.Fee.String(), string(l.State),
		})
	}
	renderTable(w, []string{"LOAN", "PATRON", "ITEM", "DUE", "RETURNED", "FEE", "STATE"}, rows)
}

func printLoan(w io.Writer, verb string, l *circulation.Loan) {
	fmt.Fprintf(w, "%s loan %s\n", successStyle.Render(verb), l.ID)
	fmt.Fprintf(w, "  item:  %s\n", l.ItemID)
	fmt.Fprintf(w, "  due:   %s\n", day(l.DueDate))
	if l.State == circulation.LoanReturned {
		fee := l.Fee.String()
		if l.Fee > 0 {
			fee = warnStyle.Render(fee)
		}
		fmt.Fprintf(w, "  fee:   %s\n", fee)
	}
}

func printNotifications(w io.Writer, notes []notify.Notification) {
	rows := make([][]string, 0, len(notes))
	for _, n := range notes {
		read := ""
		if n.Read {
			read = "read"
		}
		rows = append(rows, []string{n.ID.String(), n.CreatedAt.Format(time.DateTime), string(n.Kind), n.Message, read})
	}
	renderTable(w, []string{"ID", "AT", "KIND", "MESSAGE", ""}, rows)
}
