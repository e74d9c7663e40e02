// Command popctl drives a running popstats server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"

	"github.com/okian/popstats/internal/adapters/http/api"
	"github.com/okian/popstats/internal/domain/types"
)

type cli struct {
	Server  string        `name:"server" help:"popstats base URL" default:"http://localhost:9080" env:"POPSTATS_SERVER"`
	Timeout time.Duration `name:"timeout" help:"Request timeout" default:"30s"`

	Refresh struct {
		Force bool   `name:"force" help:"Run a cycle even if the cached ranking is fresh"`
		Token string `name:"token" help:"Refresh token" env:"POPSTATS_REFRESH_TOKEN"`
	} `cmd:"" help:"Trigger a refresh cycle"`
	List struct {
		Limit int    `name:"limit" help:"Number of items" default:"10"`
		Order string `name:"order" help:"asc or desc" default:"asc" enum:"asc,desc"`
		Tag   string `name:"tag" help:"Ranking tag"`
	} `cmd:"" help:"List ranked items"`
	Rank struct {
		ItemID string `arg:"" name:"item-id" help:"Item to look up"`
		Tag    string `name:"tag" help:"Ranking tag"`
	} `cmd:"" help:"Show the rank of one item"`
	Content struct {
		ItemID string `arg:"" name:"item-id" help:"Item to record"`
		Kind   string `arg:"" name:"kind" help:"Content kind, e.g. post"`
		Token  string `name:"token" help:"Refresh token" env:"POPSTATS_REFRESH_TOKEN"`
	} `cmd:"" help:"Record the content kind of an item in the catalog"`
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "popctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("popctl"),
		kong.Description("Operate a popstats server."),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cl := &client{base: strings.TrimRight(c.Server, "/"), http: &http.Client{Timeout: c.Timeout}}
	switch kctx.Command() {
	case "refresh":
		var resp types.RefreshResponse
		q := url.Values{}
		if c.Refresh.Force {
			q.Set("force", "true")
		}
		h := http.Header{}
		if c.Refresh.Token != "" {
			h.Set(api.RefreshTokenHeader, c.Refresh.Token)
		}
		if err := cl.do(ctx, http.MethodPost, "/refresh", q, h, &resp); err != nil {
			return err
		}
		return printJSON(out, resp)
	case "list":
		var entries []types.Entry
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.List.Limit))
		q.Set("order", c.List.Order)
		if c.List.Tag != "" {
			q.Set("tag", c.List.Tag)
		}
		if err := cl.do(ctx, http.MethodGet, "/popular", q, nil, &entries); err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%d\t%s\n", e.Rank, e.ItemID)
		}
		return nil
	case "rank <item-id>":
		var resp types.RankResponse
		q := url.Values{}
		if c.Rank.Tag != "" {
			q.Set("tag", c.Rank.Tag)
		}
		if err := cl.do(ctx, http.MethodGet, "/rank/"+url.PathEscape(c.Rank.ItemID), q, nil, &resp); err != nil {
			return err
		}
		return printJSON(out, resp)
	case "content <item-id> <kind>":
		h := http.Header{}
		if c.Content.Token != "" {
			h.Set(api.RefreshTokenHeader, c.Content.Token)
		}
		body, err := json.Marshal(map[string]string{"kind": c.Content.Kind})
		if err != nil {
			return errors.Wrap(err, "encode body")
		}
		if err := cl.send(ctx, http.MethodPut, "/content/"+url.PathEscape(c.Content.ItemID), h, body); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\n", c.Content.ItemID, c.Content.Kind)
		return nil
	}
	return errors.Errorf("unknown command %q", kctx.Command())
}

type client struct {
	base string
	http *http.Client
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *client) do(ctx context.Context, method, path string, q url.Values, h http.Header, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, http.NoBody)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := c.exchange(req, h)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

// send issues a request with a JSON body and expects no response body.
func (c *client) send(ctx context.Context, method, path string, h http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.exchange(req, h)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// exchange sends req and turns non-2xx answers into errors.
func (c *client) exchange(req *http.Request, h http.Header) (*http.Response, error) {
	for k, v := range h {
		req.Header[k] = v
	}
	method, path := req.Method, req.URL.Path
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()
	var e apiError
	if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Message != "" {
		return nil, errors.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, e.Code, e.Message)
	}
	return nil, errors.Errorf("%s %s: %s", method, path, resp.Status)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
