package intune

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/intunectl/intunectl/internal/graph"
)

// maxPages bounds @odata.nextLink traversal for a single listing.
const maxPages = 100

// Group is a directory group returned by group search.
type Group struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

// Client performs Intune operations through a rate-limited executor.
type Client struct {
	Exec          *graph.Executor
	BaseURL       string
	GroupsBaseURL string
}

// Inventory is the result of listing every policy type. Types that failed
// are reported in Errors and do not abort the listing.
type Inventory struct {
	Policies []*Policy
	Errors   map[PolicyType]error
}

type collectionPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// ListPolicies returns every policy of type t, following paging links.
func (c *Client) ListPolicies(ctx context.Context, t PolicyType) ([]*Policy, error) {
	endpoints, err := EndpointsFor(t)
	if err != nil {
		return nil, err
	}

	next := c.baseURL() + endpoints.List
	var out []*Policy
	for page := 0; next != "" && page < maxPages; page++ {
		var body collectionPage
		if err := c.getJSON(ctx, next, &body); err != nil {
			return nil, fmt.Errorf("list %s: %w", t, err)
		}
		for _, raw := range body.Value {
			data, err := decodeObject(raw)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", t, err)
			}
			out = append(out, &Policy{Type: t, Data: data})
		}
		next = body.NextLink
	}
	return out, nil
}

// ListAll lists every registered type, optionally fetching assignments for
// each policy.
func (c *Client) ListAll(ctx context.Context, withAssignments bool) (*Inventory, error) {
	inv := &Inventory{Errors: map[PolicyType]error{}}
	for _, t := range Types {
		policies, err := c.ListPolicies(ctx, t)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return inv, ctxErr
			}
			if errors.Is(err, graph.ErrNoSession) {
				return inv, err
			}
			inv.Errors[t] = err
			continue
		}
		inv.Policies = append(inv.Policies, policies...)
	}

	if withAssignments {
		for _, p := range inv.Policies {
			assignments, err := c.Assignments(ctx, p)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return inv, ctxErr
				}
				p.Assignments = nil
				continue
			}
			p.Assignments = assignments
		}
	}
	return inv, nil
}

// Assignments returns the assignments of p.
func (c *Client) Assignments(ctx context.Context, p *Policy) ([]map[string]any, error) {
	endpoints, err := EndpointsFor(p.Type)
	if err != nil {
		return nil, err
	}
	if p.ID() == "" {
		return nil, errors.New("policy has no id")
	}

	var body collectionPage
	if err := c.getJSON(ctx, c.baseURL()+endpoints.AssignmentsPath(p.ID()), &body); err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(body.Value))
	for _, raw := range body.Value {
		item, err := decodeObject(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Create posts body to the collection of t and returns the created policy.
func (c *Client) Create(ctx context.Context, t PolicyType, body map[string]any) (*Policy, error) {
	endpoints, err := EndpointsFor(t)
	if err != nil {
		return nil, err
	}

	if c.Exec == nil {
		return nil, graph.ErrNoSession
	}
	resp, err := c.Exec.PostJSON(ctx, c.baseURL()+endpoints.List, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if err := graph.CheckResponse(resp); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode created policy: %w", err)
	}
	data, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return &Policy{Type: t, Data: data}, nil
}

// Delete removes p.
func (c *Client) Delete(ctx context.Context, p *Policy) error {
	endpoints, err := EndpointsFor(p.Type)
	if err != nil {
		return err
	}
	if p.ID() == "" {
		return errors.New("policy has no id")
	}

	if c.Exec == nil {
		return graph.ErrNoSession
	}
	resp, err := c.Exec.Delete(ctx, c.baseURL()+endpoints.DeletePath(p.ID()))
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body
	return graph.CheckResponse(resp)
}

// Assign replaces the assignments of p. An empty list removes them all.
func (c *Client) Assign(ctx context.Context, p *Policy, assignments []map[string]any) error {
	endpoints, err := EndpointsFor(p.Type)
	if err != nil {
		return err
	}
	if p.ID() == "" {
		return errors.New("policy has no id")
	}
	if assignments == nil {
		assignments = []map[string]any{}
	}
	if c.Exec == nil {
		return graph.ErrNoSession
	}

	resp, err := c.Exec.PostJSON(ctx, c.baseURL()+endpoints.AssignPath(p.ID()), map[string]any{
		"assignments": assignments,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body
	return graph.CheckResponse(resp)
}

// SearchGroups finds groups whose display name starts with prefix.
func (c *Client) SearchGroups(ctx context.Context, prefix string) ([]Group, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("search term is required")
	}

	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("startswith(displayName,'%s')", strings.ReplaceAll(prefix, "'", "''")))
	query.Set("$select", "id,displayName,description")
	query.Set("$top", "50")

	var body struct {
		Value []Group `json:"value"`
	}
	if err := c.getJSON(ctx, c.groupsBaseURL()+"/groups?"+query.Encode(), &body); err != nil {
		return nil, fmt.Errorf("search groups: %w", err)
	}
	return body.Value, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	if c.Exec == nil {
		return graph.ErrNoSession
	}
	return c.Exec.GetJSON(ctx, rawURL, out)
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c *Client) groupsBaseURL() string {
	if c.GroupsBaseURL != "" {
		return strings.TrimRight(c.GroupsBaseURL, "/")
	}
	return DefaultGroupsBaseURL
}
