// internal/clients/membership_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"circdesk/internal/membership"
	"circdesk/internal/notify"
)

type MembershipClient struct {
	*Client
}

func NewMembershipClient(c *Client) *MembershipClient {
	return &MembershipClient{Client: c}
}

// Login exchanges credentials for a token.
func (c *MembershipClient) Login(ctx context.Context, email, password string) (string, *membership.Member, error) {
	var resp struct {
		Token  string             `json:"token"`
		Member *membership.Member `json:"member"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", map[string]string{"email": email, "password": password}, &resp); err != nil {
		return "", nil, err
	}
	return resp.Token, resp.Member, nil
}

func (c *MembershipClient) RegisterMember(ctx context.Context, in membership.NewMember) (*membership.Member, error) {
	var m membership.Member
	if err := c.do(ctx, http.MethodPost, "/members", in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *MembershipClient) GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	var m membership.Member
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/members/%s", id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Me returns the member the client's token belongs to.
func (c *MembershipClient) Me(ctx context.Context) (*membership.Member, error) {
	var m membership.Member
	if err := c.do(ctx, http.MethodGet, "/me", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *MembershipClient) Notifications(ctx context.Context, patronID uuid.UUID, unreadOnly bool) ([]notify.Notification, error) {
	path := fmt.Sprintf("/patrons/%s/notifications", patronID)
	if unreadOnly {
		path += "?unread=true"
	}
	var notes []notify.Notification
	err := c.do(ctx, http.MethodGet, path, nil, &notes)
	return notes, err
}

func (c *MembershipClient) MarkRead(ctx context.Context, notificationID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/notifications/%s/read", notificationID), nil, nil)
}
