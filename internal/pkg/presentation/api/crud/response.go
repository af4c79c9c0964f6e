package crud

import (
	"fmt"
	"net/url"

	"github.com/diwise/facility-mgmt/pkg/types"
)

type meta struct {
	TotalRecords uint64  `json:"totalRecords"`
	Offset       *uint64 `json:"offset,omitempty"`
	Limit        *uint64 `json:"limit,omitempty"`
	Count        uint64  `json:"count"`
}

type links struct {
	Self  *string `json:"self,omitempty"`
	First *string `json:"first,omitempty"`
	Prev  *string `json:"prev,omitempty"`
	Next  *string `json:"next,omitempty"`
	Last  *string `json:"last,omitempty"`
}

type ApiResponse struct {
	Meta  *meta  `json:"meta,omitempty"`
	Data  any    `json:"data"`
	Links *links `json:"links,omitempty"`
}

func newListResponse[M any](u *url.URL, c types.Collection[M]) ApiResponse {
	m := &meta{
		TotalRecords: c.TotalCount,
		Count:        c.Count,
	}

	if c.Limit == 0 {
		return ApiResponse{Meta: m, Data: c.Data}
	}

	m.Offset, m.Limit = &c.Offset, &c.Limit

	page := func(offset uint64) *string {
		q := u.Query()
		q.Set("offset", fmt.Sprintf("%d", offset))
		q.Set("limit", fmt.Sprintf("%d", c.Limit))
		s := u.Path + "?" + q.Encode()
		return &s
	}

	l := &links{
		Self:  page(c.Offset),
		First: page(0),
	}

	if c.Offset > 0 {
		prev := uint64(0)
		if c.Offset > c.Limit {
			prev = c.Offset - c.Limit
		}
		l.Prev = page(prev)
	}

	if c.Offset+c.Limit < c.TotalCount {
		l.Next = page(c.Offset + c.Limit)
	}

	if c.TotalCount > 0 {
		l.Last = page(((c.TotalCount - 1) / c.Limit) * c.Limit)
	}

	return ApiResponse{Meta: m, Data: c.Data, Links: l}
}
