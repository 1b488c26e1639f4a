package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type meResponse struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
}

// Me returns the account the current token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mr meResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("graph: decoding /me response: %w", err)
	}

	return &User{
		ID:                mr.ID,
		DisplayName:       mr.DisplayName,
		UserPrincipalName: mr.UserPrincipalName,
		Mail:              mr.Mail,
	}, nil
}
