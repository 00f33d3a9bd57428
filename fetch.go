// This file queries the catalog endpoint.

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Thrown when the catalog answers with a body that is not valid UTF-8 text.
type InvalidEncodingError struct {
	Url string
}

func (e *InvalidEncodingError) Error() string {
	return "The response from " + e.Url + " is not valid UTF-8 text."
}

type catalogResponse struct {
	StatusCode int
	Body       string
}

type catalogFetcher struct {
	client *http.Client
	url    string
	token  string
}

// Builds the service listing URL out of the catalog configuration.
func catalogUrl(catalog catalogConfiguration) (string, error) {
	if catalog.Service == "" {
		return "", errors.New("no catalog service specified")
	}

	listing, err := url.Parse(strings.TrimRight(catalog.Address, "/") + "/v1/catalog/service/" + url.PathEscape(catalog.Service))
	if err != nil {
		return "", err
	}
	if listing.Scheme == "" || listing.Host == "" {
		return "", errors.New("catalog address must be an absolute URL: " + catalog.Address)
	}

	query := url.Values{}
	if catalog.Datacenter != "" {
		query.Set("dc", catalog.Datacenter)
	}
	if catalog.Tag != "" {
		query.Set("tag", catalog.Tag)
	}
	listing.RawQuery = query.Encode()

	return listing.String(), nil
}

func newCatalogFetcher(catalog catalogConfiguration, client *http.Client) (*catalogFetcher, error) {
	listing, err := catalogUrl(catalog)
	if err != nil {
		return nil, err
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &catalogFetcher{
		client: client,
		url:    listing,
		token:  catalog.Token,
	}, nil
}

// Sends one GET to the catalog and reads the whole body.
// The status code is reported but never treated as a failure.
func (f *catalogFetcher) Fetch(ctx context.Context) (*catalogResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}

	if f.token != "" {
		request.Header.Set("X-Consul-Token", f.token)
	}

	response, err := f.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		return nil, err
	}

	if !utf8.Valid(buffer.Bytes()) {
		return nil, &InvalidEncodingError{Url: f.url}
	}

	return &catalogResponse{
		StatusCode: response.StatusCode,
		Body:       buffer.String(),
	}, nil
}

// Same as Fetch, but only the body text.
func (f *catalogFetcher) FetchText(ctx context.Context) (string, error) {
	response, err := f.Fetch(ctx)
	if err != nil {
		return "", err
	}

	return response.Body, nil
}
