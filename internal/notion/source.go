package notion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/models"
)

// FetchAll lazily enumerates every live page of database sourceID,
// following next_cursor until has_more is false. Each call starts a fresh
// enumeration. Iteration stops after the first error. A page whose id is
// readable but whose fields are not is yielded with DecodeErr set.
func (c *Client) FetchAll(ctx context.Context, sourceID string) iter.Seq2[models.RemoteItem, error] {
	return func(yield func(models.RemoteItem, error) bool) {
		cursor := ""
		for {
			payload := map[string]any{"page_size": c.pageSize}
			if cursor != "" {
				payload["start_cursor"] = cursor
			}
			if f := c.filters[sourceID]; len(f) > 0 {
				payload["filter"] = f
			}

			var resp listResponse
			path := "/v1/databases/" + url.PathEscape(sourceID) + "/query"
			if err := c.doJSON(ctx, http.MethodPost, path, payload, &resp); err != nil {
				yield(models.RemoteItem{}, classify(sourceID, err))
				return
			}
			for _, raw := range resp.Results {
				item, ok, err := decodePage(raw, sourceID)
				if err != nil {
					yield(models.RemoteItem{}, fmt.Errorf("notion: database %s: %w", sourceID, err))
					return
				}
				if !ok {
					continue
				}
				if item.DecodeErr != nil {
					c.logger.Warn("notion: page decode failed",
						slog.String("database_id", sourceID),
						slog.String("page_id", item.ID),
						slog.String("error", item.DecodeErr.Error()))
				}
				if !yield(item, nil) {
					return
				}
			}
			if cursor = resp.cursor(); cursor == "" {
				return
			}
		}
	}
}

// classify turns auth and not-found responses into FatalSourceError.
func classify(sourceID string, err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && IsFatalStatus(httpErr.StatusCode) {
		return &apperr.FatalSourceError{Source: sourceID, StatusCode: httpErr.StatusCode, Err: err}
	}
	return fmt.Errorf("notion: query database %s: %w", sourceID, err)
}

// FetchContent returns the block tree of page itemID. Nested blocks are
// fetched recursively up to the configured depth; child pages and child
// databases are not descended into.
func (c *Client) FetchContent(ctx context.Context, itemID string) ([]models.Block, error) {
	blocks, err := c.children(ctx, itemID, 0)
	if err != nil {
		return nil, fmt.Errorf("notion: fetch content %s: %w", itemID, err)
	}
	return blocks, nil
}

func (c *Client) children(ctx context.Context, blockID string, depth int) ([]models.Block, error) {
	var out []models.Block
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page_size", fmt.Sprint(c.pageSize))
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		var resp listResponse
		path := "/v1/blocks/" + url.PathEscape(blockID) + "/children?" + q.Encode()
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Results {
			blk, descend, live, err := decodeBlock(raw)
			if err != nil {
				return nil, err
			}
			if !live {
				continue
			}
			if descend && depth+1 < c.maxDepth {
				kids, err := c.children(ctx, blk.ID, depth+1)
				if err != nil {
					return nil, err
				}
				blk.Children = kids
			}
			out = append(out, blk)
		}
		if cursor = resp.cursor(); cursor == "" {
			return out, nil
		}
	}
}
