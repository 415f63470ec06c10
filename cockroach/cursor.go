package cockroach

import (
	"fmt"
	"slices"

	"github.com/btcsuite/btcutil/base58"
	"github.com/jackc/pgx/v5"
	"github.com/nicolasparada/go-errs"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dyadchat/dyad/ptr"
	"github.com/dyadchat/dyad/types"
)

const defaultPageSize = 25

// cursor pages by entity ID alone: xid IDs sort by creation time, so no
// separate timestamp has to travel in the cursor.
type cursor struct {
	ID string `msgpack:"i"`
}

func encodeCursor(id string) (string, error) {
	b, err := msgpack.Marshal(cursor{ID: id})
	if err != nil {
		return "", fmt.Errorf("msgpack marshal cursor: %w", err)
	}
	return base58.Encode(b), nil
}

func decodeCursor(s string) (string, error) {
	var c cursor
	if err := msgpack.Unmarshal(base58.Decode(s), &c); err != nil {
		return "", errs.InvalidArgumentError("invalid cursor")
	}
	return c.ID, nil
}

// addPageFilter appends cursor conditions to a query that already has a WHERE
// clause. Listings run newest first, so "after" moves towards older rows.
func addPageFilter(query, table string, args pgx.StrictNamedArgs, pageArgs types.PageArgs) (string, error) {
	if pageArgs.After != nil {
		id, err := decodeCursor(*pageArgs.After)
		if err != nil {
			return "", err
		}
		query += fmt.Sprintf(" AND %s.id < @after_cursor_id", table)
		args["after_cursor_id"] = id
	}

	if pageArgs.Before != nil {
		id, err := decodeCursor(*pageArgs.Before)
		if err != nil {
			return "", err
		}
		query += fmt.Sprintf(" AND %s.id > @before_cursor_id", table)
		args["before_cursor_id"] = id
	}

	return query, nil
}

func addPageOrder(query, table string, pageArgs types.PageArgs) string {
	if pageArgs.IsBackwards() {
		return query + fmt.Sprintf(" ORDER BY %s.id ASC", table)
	}
	return query + fmt.Sprintf(" ORDER BY %s.id DESC", table)
}

func addPageLimit(query string, args pgx.StrictNamedArgs, pageArgs types.PageArgs) string {
	size := ptr.Or(pageArgs.First, defaultPageSize)
	if pageArgs.IsBackwards() {
		size = ptr.Or(pageArgs.Last, defaultPageSize)
	}
	// fetch one extra row to learn whether another page exists.
	args["page_limit"] = size + 1
	return query + " LIMIT @page_limit"
}

// applyPageInfo trims the extra row fetched by addPageLimit, restores
// newest-first order for backwards pages, and stamps the boundary cursors.
func applyPageInfo[T any](page *types.Page[T], pageArgs types.PageArgs, idOf func(T) string) error {
	l := uint(len(page.Items))
	if l == 0 {
		return nil
	}

	if pageArgs.IsBackwards() {
		last := ptr.Or(pageArgs.Last, defaultPageSize)
		page.PageInfo.HasPreviousPage = l > last
		if page.PageInfo.HasPreviousPage {
			page.Items = page.Items[:last]
		}
		page.PageInfo.HasNextPage = pageArgs.Before != nil
		slices.Reverse(page.Items)
	} else {
		first := ptr.Or(pageArgs.First, defaultPageSize)
		page.PageInfo.HasNextPage = l > first
		if page.PageInfo.HasNextPage {
			page.Items = page.Items[:first]
		}
		page.PageInfo.HasPreviousPage = pageArgs.After != nil
	}

	if len(page.Items) == 0 {
		return nil
	}

	start, err := encodeCursor(idOf(page.Items[0]))
	if err != nil {
		return fmt.Errorf("encode start cursor: %w", err)
	}
	end, err := encodeCursor(idOf(page.Items[len(page.Items)-1]))
	if err != nil {
		return fmt.Errorf("encode end cursor: %w", err)
	}

	page.PageInfo.StartCursor = ptr.From(start)
	page.PageInfo.EndCursor = ptr.From(end)

	return nil
}
