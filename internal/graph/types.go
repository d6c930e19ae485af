package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lsm/rolewatch/internal/auth"
	"github.com/lsm/rolewatch/internal/failure"
)

// Role is an activated directory role.
type Role struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Member is a directory object assigned to a role. Non-user members such as
// service principals leave the user fields empty.
type Member struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
	JobTitle          string `json:"jobTitle"`
	Description       string `json:"description"`
}

// ListRoles fetches the directory roles.
func (c *Client) ListRoles(ctx context.Context, h auth.Header) ([]Role, error) {
	res, err := c.Fetch(ctx, h, c.RolesURL(), "")
	if err != nil {
		return nil, err
	}
	roles, err := DecodeItems[Role](res.Items)
	if err != nil {
		return nil, err
	}
	for i, r := range roles {
		if r.ID == "" {
			return nil, failure.Protocol(fmt.Errorf("role at index %d has no id", i))
		}
	}
	return roles, nil
}

// DecodeItems decodes every raw item into T.
func DecodeItems[T any](items []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(items))
	for i, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, failure.Protocol(fmt.Errorf("decode item %d: %w", i, err))
		}
		out = append(out, v)
	}
	return out, nil
}
