package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	PathPrograms   = "/programs"
	PathCategories = "/categories"
	PathAreas      = "/areas"
	PathStats      = "/stats"
)

// Resources lists the collection endpoints that can be fetched without
// arguments, in the order a cache warm-up visits them.
var Resources = []string{PathPrograms, PathCategories, PathAreas, PathStats}

// GetPrograms returns programs matching q.
func (c *Client) GetPrograms(ctx context.Context, q ProgramQuery) (*ProgramList, error) {
	var out ProgramList
	if err := c.getJSON(ctx, PathPrograms, q.params(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProgramByID returns one program.
func (c *Client) GetProgramByID(ctx context.Context, id string) (*Program, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("invalid program id %q", id)
	}
	var out Program
	if err := c.getJSON(ctx, ProgramPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProgramPath is the API path for one program.
func ProgramPath(id string) string { return PathPrograms + "/" + id }

func (c *Client) GetCategories(ctx context.Context) ([]Category, error) {
	var out struct {
		Categories []Category `json:"categories"`
	}
	if err := c.getJSON(ctx, PathCategories, nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

func (c *Client) GetAreas(ctx context.Context) ([]Area, error) {
	var out struct {
		Areas []Area `json:"areas"`
	}
	if err := c.getJSON(ctx, PathAreas, nil, &out); err != nil {
		return nil, err
	}
	return out.Areas, nil
}

func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.getJSON(ctx, PathStats, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fetch GETs one of Resources without decoding it. The cache warm-up uses
// it to populate the response cache.
func (c *Client) Fetch(ctx context.Context, resource string) (*Response, error) {
	for _, r := range Resources {
		if r == resource {
			return c.Request(ctx, resource, RequestOptions{})
		}
	}
	return nil, errors.New("unknown resource " + resource)
}

func (c *Client) getJSON(ctx context.Context, p string, params map[string]string, out any) error {
	resp, err := c.Request(ctx, p, RequestOptions{Params: params})
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}
