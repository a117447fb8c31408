package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"circdesk/internal/circulation"
)

type CirculationClient struct {
	*Client
}

func NewCirculationClient(c *Client) *CirculationClient {
	return &CirculationClient{Client: c}
}

type patronItem struct {
	PatronID uuid.UUID `json:"patron_id"`
	ItemID   uuid.UUID `json:"item_id"`
}

// Reservation is the server's answer to a reserve request.
type Reservation struct {
	ItemID   uuid.UUID              `json:"item_id"`
	PatronID uuid.UUID              `json:"patron_id"`
	Position int                    `json:"position"`
	Status   circulation.ItemStatus `json:"status"`
}

func (c *CirculationClient) Borrow(ctx context.Context, patronID, itemID uuid.UUID) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, "/loans", patronItem{patronID, itemID}, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) Return(ctx context.Context, patronID, itemID uuid.UUID) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, "/returns", patronItem{patronID, itemID}, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) Reserve(ctx context.Context, patronID, itemID uuid.UUID) (*Reservation, error) {
	var r Reservation
	if err := c.do(ctx, http.MethodPost, "/reservations", patronItem{patronID, itemID}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *CirculationClient) CancelReservation(ctx context.Context, patronID, itemID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/reservations/cancel", patronItem{patronID, itemID}, nil)
}

// Renew extends a loan by days; zero uses the server's renewal period.
func (c *CirculationClient) Renew(ctx context.Context, loanID uuid.UUID, days int) (*circulation.Loan, error) {
	var body interface{}
	if days != 0 {
		body = map[string]int{"days": days}
	}
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/loans/%s/renew", loanID), body, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) OpenLoans(ctx context.Context) ([]circulation.Loan, error) {
	var loans []circulation.Loan
	err := c.do(ctx, http.MethodGet, "/loans", nil, &loans)
	return loans, err
}

// OverdueLoans lists loans overdue as of asOf (YYYY-MM-DD); empty means today.
func (c *CirculationClient) OverdueLoans(ctx context.Context, asOf string) ([]circulation.Loan, error) {
	path := "/loans/overdue"
	if asOf != "" {
		path += "?as_of=" + url.QueryEscape(asOf)
	}
	var loans []circulation.Loan
	err := c.do(ctx, http.MethodGet, path, nil, &loans)
	return loans, err
}

func (c *CirculationClient) LoansFor(ctx context.Context, patronID uuid.UUID) ([]circulation.Loan, error) {
	var loans []circulation.Loan
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/patrons/%s/loans", patronID), nil, &loans)
	return loans, err
}

func (c *CirculationClient) Account(ctx context.Context, patronID uuid.UUID) (*circulation.PatronAccount, error) {
	var acct circulation.PatronAccount
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/patrons/%s/account", patronID), nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *CirculationClient) Item(ctx context.Context, itemID uuid.UUID) (*circulation.Item, error) {
	var it circulation.Item
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/items/%s", itemID), nil, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *CirculationClient) SetStatus(ctx context.Context, itemID uuid.UUID, status circulation.ItemStatus) (*circulation.Item, error) {
	var it circulation.Item
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/items/%s/status", itemID), map[string]circulation.ItemStatus{"status": status}, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *CirculationClient) TopBorrowed(ctx context.Context, n int) ([]circulation.BorrowCount, error) {
	var out []circulation.BorrowCount
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/stats/top-borrowed?n=%d", n), nil, &out)
	return out, err
}

func (c *CirculationClient) Sweep(ctx context.Context) (*circulation.SweepReport, error) {
	var rep circulation.SweepReport
	if err := c.do(ctx, http.MethodPost, "/sweep", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}
