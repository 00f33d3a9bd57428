package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Starts a fake catalog with the given handler, and a relay in front of it.
func startTestRelay(t *testing.T, catalogHandler http.Handler, exitOnError bool) (*httptest.Server, *relay) {
	t.Helper()

	catalog := httptest.NewServer(catalogHandler)
	t.Cleanup(catalog.Close)

	fetcher, err := newCatalogFetcher(catalogConfiguration{Address: catalog.URL, Service: "spinnaker"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	r := newRelay(fetcher, exitOnError)
	server := httptest.NewServer(newRelayRouter(r, nil))
	t.Cleanup(server.Close)

	return server, r
}

func fixedBody(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
}

func send(method string, url string) (int, string, error) {
	request, err := http.NewRequest(method, url, strings.NewReader("ignored"))
	if err != nil {
		return 0, "", err
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return 0, "", err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, "", err
	}
	return response.StatusCode, string(body), nil
}

func call(t *testing.T, method string, url string) (int, string) {
	t.Helper()

	status, body, err := send(method, url)
	if err != nil {
		t.Fatal(err)
	}
	return status, body
}

func TestRelayEchoesCatalog(t *testing.T) {
	server, _ := startTestRelay(t, fixedBody(`[{"Node":"node1"}]`), true)

	status, body := call(t, http.MethodGet, server.URL+"/anything")
	if status != http.StatusOK {
		t.Error("Expected 200, got", status)
	}
	if body != `[{"Node":"node1"}]` {
		t.Errorf("Expected the catalog body, got %q", body)
	}
}

func TestRelayEchoesEmptyCatalog(t *testing.T) {
	server, _ := startTestRelay(t, fixedBody(""), true)

	status, body := call(t, http.MethodGet, server.URL+"/")
	if status != http.StatusOK {
		t.Error("Expected 200, got", status)
	}
	if body != "" {
		t.Errorf("Expected an empty body, got %q", body)
	}
}

func TestRelayIgnoresMethodAndPath(t *testing.T) {
	server, _ := startTestRelay(t, fixedBody(`[{"Node":"node1"}]`), true)

	methods := []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	paths := []string{"/", "/anything", "/v1/catalog/service/other?dc=dc9", "//double", "/a/../b", "/trailing/"}

	for _, method := range methods {
		for _, path := range paths {
			status, body := call(t, method, server.URL+path)
			if status != http.StatusOK || body != `[{"Node":"node1"}]` {
				t.Errorf("%s %s: got %d %q", method, path, status, body)
			}
		}
	}
}

func TestRelayFetchFailureExits(t *testing.T) {
	catalog := httptest.NewServer(http.NotFoundHandler())
	address := catalog.URL
	catalog.Close()

	fetcher, _ := newCatalogFetcher(catalogConfiguration{Address: address, Service: "spinnaker"}, nil)
	r := newRelay(fetcher, true)

	var exited error
	r.exit = func(err error) { exited = err }

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/anything", nil))

	if exited == nil {
		t.Error("Expected the failure to be treated as fatal")
	}
	if recorder.Code == http.StatusOK {
		t.Error("A failed fetch must not be answered with 200")
	}
}

func TestRelayFetchFailureBadGateway(t *testing.T) {
	catalog := httptest.NewServer(http.NotFoundHandler())
	address := catalog.URL
	catalog.Close()

	fetcher, _ := newCatalogFetcher(catalogConfiguration{Address: address, Service: "spinnaker"}, nil)
	r := newRelay(fetcher, false)
	r.exit = func(err error) { t.Error("Did not expect an exit:", err) }

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	if recorder.Code != http.StatusBadGateway {
		t.Error("Expected 502, got", recorder.Code)
	}
}

func TestRelayOutlivesCallerHangingUp(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`[{"Node":"node1"}]`))
	}))
	t.Cleanup(catalog.Close)

	fetcher, _ := newCatalogFetcher(catalogConfiguration{Address: catalog.URL, Service: "spinnaker"}, nil)
	r := newRelay(fetcher, true)
	r.exit = func(err error) { t.Error("Did not expect an exit:", err) }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))

	if ctx.Err() == nil {
		t.Fatal("Expected the caller to have given up before the catalog answered")
	}
	if recorder.Code != http.StatusOK {
		t.Error("Expected 200, got", recorder.Code)
	}
	if recorder.Body.String() != `[{"Node":"node1"}]` {
		t.Errorf("Expected the catalog body, got %q", recorder.Body.String())
	}
}

func TestRelayFetchesPerRequest(t *testing.T) {
	var hits atomic.Int32
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})

	// The catalog holds every answer until two requests are in flight at once
	slowCatalog := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		arrived <- struct{}{}
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		w.Write([]byte(`[{"Node":"slow"}]`))
	})
	server, _ := startTestRelay(t, slowCatalog, true)

	var waiter sync.WaitGroup
	for i := 0; i < 2; i++ {
		waiter.Add(1)
		go func() {
			defer waiter.Done()
			status, body, err := send(http.MethodGet, server.URL+"/")
			if err != nil {
				t.Error(err)
				return
			}
			if status != http.StatusOK || body != `[{"Node":"slow"}]` {
				t.Errorf("Got %d %q", status, body)
			}
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-time.After(5 * time.Second):
			t.Fatal("The second request did not reach the catalog while the first was pending")
		}
	}
	close(release)
	waiter.Wait()

	if hits.Load() != 2 {
		t.Error("Expected one catalog fetch per request, got", hits.Load())
	}

	// And again sequentially: nothing is cached between requests
	call(t, http.MethodGet, server.URL+"/")
	if hits.Load() != 3 {
		t.Error("Expected a fresh catalog fetch, got", hits.Load())
	}
}
