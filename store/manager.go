package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
)

const hdrFastlyKey = "Fastly-Key"

// DefaultAPIURL is the base URL of the Fastly management API.
const DefaultAPIURL = "https://api.fastly.com"

// ErrStoreNotFound is returned by [APIClient.Store] when there is no KV store
// with the requested name.
const ErrStoreNotFound errors.Error = "kv store not found"

// KVStore is a KV store as listed by the management API.
type KVStore struct {
	ID        string `json:"id"`
	StoreName string `json:"name"`
}

// kvStoreListResponse is a single page of the KV store list.
type kvStoreListResponse struct {
	StoreList []*KVStore `json:"data"`
	Meta      struct {
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
}

// APIClient manages KV stores through the Fastly management API.
type APIClient struct {
	client *http.Client
	url    *url.URL
	token  string
}

// NewAPIClient returns a new *APIClient.  apiURL is usually [DefaultAPIURL].
// token must have write access to the KV stores.
func NewAPIClient(client *http.Client, apiURL *url.URL, token string) (c *APIClient) {
	return &APIClient{
		client: client,
		url:    apiURL,
		token:  token,
	}
}

// Stores returns all KV stores of the account by their names.
func (c *APIClient) Stores(ctx context.Context) (stores map[string]*KVStore, err error) {
	stores = map[string]*KVStore{}
	cursor := ""
	for {
		var page *kvStoreListResponse
		page, err = c.storesPage(ctx, cursor)
		if err != nil {
			return nil, err
		}

		for _, s := range page.StoreList {
			stores[s.StoreName] = s
		}

		cursor = page.Meta.NextCursor
		if cursor == "" {
			return stores, nil
		}
	}
}

// Store returns the KV store with the given name.
func (c *APIClient) Store(ctx context.Context, name string) (s *KVStore, err error) {
	stores, err := c.Stores(ctx)
	if err != nil {
		return nil, err
	}

	s, ok := stores[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrStoreNotFound)
	}

	return s, nil
}

func (c *APIClient) storesPage(ctx context.Context, cursor string) (page *kvStoreListResponse, err error) {
	defer func() { err = errors.Annotate(err, "listing kv stores: %w") }()

	u := c.url.JoinPath("resources", "stores", "kv")
	if cursor != "" {
		u.RawQuery = url.Values{"cursor": []string{cursor}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set(hdrFastlyKey, c.token)
	req.Header.Set(httphdr.Accept, "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	page = &kvStoreListResponse{}
	err = json.NewDecoder(resp.Body).Decode(page)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	return page, nil
}

// Upload writes data under key into store.
func (c *APIClient) Upload(ctx context.Context, store *KVStore, key string, data []byte) (err error) {
	defer func() { err = errors.Annotate(err, "uploading key %q: %w", key) }()

	u := c.url.JoinPath("resources", "stores", "kv", store.ID, "keys", key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Set(hdrFastlyKey, c.token)
	req.Header.Set(httphdr.ContentType, "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return fmt.Errorf("status code %d: %q", resp.StatusCode, body)
	}

	return nil
}
