package jobber

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pricesync/pricesync/pkg/catalog"
)

// Page is one page of the remote catalog.
type Page struct {
	Entries     []catalog.Entry
	HasNextPage bool
	EndCursor   string
}

// Account identifies the connected Jobber account.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type productsData struct {
	ProductOrServices *productConnection `json:"productOrServices"`
}

type productConnection struct {
	Nodes    []productNode `json:"nodes"`
	Edges    []productEdge `json:"edges"`
	PageInfo pageInfo      `json:"pageInfo"`
}

type productEdge struct {
	Node *productNode `json:"node"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type productNode struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Code             string        `json:"code"`
	InternalUnitCost optionalFloat `json:"internalUnitCost"`
}

// nodes returns the page items from either the nodes or the relay edges shape.
func (c *productConnection) nodes() []productNode {
	if c.Nodes != nil || c.Edges == nil {
		return c.Nodes
	}
	out := make([]productNode, 0, len(c.Edges))
	for _, e := range c.Edges {
		if e.Node != nil {
			out = append(out, *e.Node)
		}
	}
	return out
}

func (n productNode) entry() catalog.Entry {
	return catalog.Entry{
		ID:          n.ID,
		Name:        strings.TrimSpace(n.Name),
		Code:        strings.TrimSpace(n.Code),
		CurrentCost: n.InternalUnitCost.ptr(),
	}
}

// optionalFloat accepts a JSON number, a numeric string or null. Anything
// else decodes as unknown rather than failing the page.
type optionalFloat struct {
	value float64
	valid bool
}

func (f *optionalFloat) UnmarshalJSON(b []byte) error {
	*f = optionalFloat{}

	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	f.value, f.valid = v, true
	return nil
}

func (f optionalFloat) ptr() *float64 {
	if !f.valid {
		return nil
	}
	v := f.value
	return &v
}

type editData struct {
	ProductsAndServicesEdit *struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"productsAndServicesEdit"`
}

type userError struct {
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

type accountData struct {
	Account *Account `json:"account"`
}

type disconnectData struct {
	AppDisconnect *struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"appDisconnect"`
}
