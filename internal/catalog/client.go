// Package catalog is a REST client for the NetBox infrastructure catalog.
//
// Entities are handled generically as field maps keyed by domain.Kind; the
// client knows only the endpoint of each kind and the NetBox list envelope.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"nbsync/internal/domain"
	"nbsync/internal/executor"
)

const pageSize = 200

var endpoints = map[domain.Kind]string{
	domain.KindSite:           "dcim/sites",
	domain.KindManufacturer:   "dcim/manufacturers",
	domain.KindDeviceType:     "dcim/device-types",
	domain.KindDeviceRole:     "dcim/device-roles",
	domain.KindClusterType:    "virtualization/cluster-types",
	domain.KindCluster:        "virtualization/clusters",
	domain.KindDevice:         "dcim/devices",
	domain.KindVirtualMachine: "virtualization/virtual-machines",
	domain.KindInterface:      "dcim/interfaces",
	domain.KindVMInterface:    "virtualization/interfaces",
	domain.KindMACAddress:     "dcim/mac-addresses",
	domain.KindIPAddress:      "ipam/ip-addresses",
	domain.KindService:        "ipam/services",
}

// Endpoint returns the API path of a kind, relative to /api/
func Endpoint(kind domain.Kind) (string, error) {
	path, ok := endpoints[kind]
	if !ok {
		return "", fmt.Errorf("unknown kind %q", kind)
	}
	return path, nil
}

// Client talks to one NetBox instance
type Client struct {
	exec    *executor.Executor
	baseURL string
	auth    string
	log     zerolog.Logger
}

// New creates a client. scheme is the Authorization prefix ("Token" or "Bearer").
func New(baseURL, token, scheme string, exec *executor.Executor, log zerolog.Logger) *Client {
	if scheme == "" {
		scheme = "Token"
	}
	return &Client{
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    scheme + " " + token,
		log:     log,
	}
}

type listEnvelope struct {
	Count   int              `json:"count"`
	Next    *string          `json:"next"`
	Results []map[string]any `json:"results"`
}

// Name identifies the catalog in preflight checks
func (c *Client) Name() string {
	return "netbox"
}

// Ping verifies the catalog is reachable and the token accepted
func (c *Client) Ping(ctx context.Context) error {
	resp, req, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/status/", nil)
	if err != nil {
		return &domain.FatalError{Component: "netbox", Err: err}
	}
	if err := resp.Err(req); err != nil {
		return &domain.FatalError{Component: "netbox", Err: err}
	}
	return nil
}

// List returns every record of kind matching filter, following pagination
func (c *Client) List(ctx context.Context, kind domain.Kind, filter url.Values) ([]domain.CatalogRecord, error) {
	path, err := Endpoint(kind)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range filter {
		q[k] = v
	}
	q.Set("limit", strconv.Itoa(pageSize))
	next := fmt.Sprintf("%s/api/%s/?%s", c.baseURL, path, q.Encode())

	var records []domain.CatalogRecord
	for next != "" {
		resp, req, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		if err := resp.Err(req); err != nil {
			return nil, err
		}

		var page listEnvelope
		if err := resp.Decode(&page); err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		for _, fields := range page.Results {
			records = append(records, domain.NewCatalogRecord(kind, fields))
		}

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}

	return records, nil
}

// Get fetches one record by id
func (c *Client) Get(ctx context.Context, kind domain.Kind, id int64) (domain.CatalogRecord, error) {
	path, err := Endpoint(kind)
	if err != nil {
		return domain.CatalogRecord{}, err
	}

	resp, req, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/%s/%d/", c.baseURL, path, id), nil)
	if err != nil {
		return domain.CatalogRecord{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.CatalogRecord{}, fmt.Errorf("%s %d: %w", kind, id, domain.ErrNotFound)
	}
	return decodeRecord(kind, resp, req)
}

// Create posts a new record
func (c *Client) Create(ctx context.Context, kind domain.Kind, attrs map[string]any) (domain.CatalogRecord, error) {
	path, err := Endpoint(kind)
	if err != nil {
		return domain.CatalogRecord{}, err
	}

	resp, req, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/api/%s/", c.baseURL, path), attrs)
	if err != nil {
		return domain.CatalogRecord{}, err
	}
	return decodeRecord(kind, resp, req)
}

// Update patches only the given fields of a record
func (c *Client) Update(ctx context.Context, kind domain.Kind, id int64, attrs map[string]any) (domain.CatalogRecord, error) {
	path, err := Endpoint(kind)
	if err != nil {
		return domain.CatalogRecord{}, err
	}

	resp, req, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("%s/api/%s/%d/", c.baseURL, path, id), attrs)
	if err != nil {
		return domain.CatalogRecord{}, err
	}
	return decodeRecord(kind, resp, req)
}

func (c *Client) do(ctx context.Context, method, target string, body any) (*executor.Response, executor.Request, error) {
	req, err := executor.NewJSONRequest(method, target, body)
	if err != nil {
		return nil, req, err
	}
	req.Header.Set("Authorization", c.auth)

	resp, err := c.exec.Do(ctx, req)
	if err != nil {
		return nil, req, err
	}

	c.log.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Msg("Catalog request")

	return resp, req, nil
}

func decodeRecord(kind domain.Kind, resp *executor.Response, req executor.Request) (domain.CatalogRecord, error) {
	if err := resp.Err(req); err != nil {
		return domain.CatalogRecord{}, err
	}

	var fields map[string]any
	if err := resp.Decode(&fields); err != nil {
		return domain.CatalogRecord{}, fmt.Errorf("%s: %w", kind, err)
	}
	rec := domain.NewCatalogRecord(kind, fields)
	if rec.ID == 0 {
		return rec, fmt.Errorf("%s: response carries no id", kind)
	}
	return rec, nil
}

// IsNotFound reports a lookup miss
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
