package gammaapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.Config{
		GammaAPIBaseURL: srv.URL,
		GammaAPIRPS:     1000,
		GammaAPITimeout: 5 * time.Second,
	})
}

func TestListActiveMarkets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{"active": "true", "closed": "false", "archived": "false", "limit": "500", "offset": "1000"}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("query %s = %q, want %q", k, q.Get(k), v)
			}
		}
		w.Write([]byte(`[{"id":"1","question":"Will A?"},{"id":"2","question":"Will B?"}]`))
	})

	markets, err := client.ListActiveMarkets(context.Background(), 500, 1000)
	if err != nil {
		t.Fatalf("ListActiveMarkets failed: %v", err)
	}
	if len(markets) != 2 || markets[1].ID != "2" || markets[1].Question != "Will B?" {
		t.Errorf("unexpected markets: %+v", markets)
	}
}

func TestGetMarket(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"123","question":"Will X?","outcomes":"[\"Yes\", \"No\"]","outcomePrices":"[\"0.3\", \"0.7\"]"}`))
	})

	d, err := client.GetMarket(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if len(d.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(d.Outcomes))
	}
	if d.Outcomes[0].Label != "Yes" || d.Outcomes[0].Price != 0.3 {
		t.Errorf("unexpected first outcome: %+v", d.Outcomes[0])
	}
	if d.Outcomes[1].ID != 1 || d.Outcomes[1].Price != 0.7 {
		t.Errorf("unexpected second outcome: %+v", d.Outcomes[1])
	}
}

func TestGetMarketUnevenLists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"1","question":"Will X?","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.3\"]"}`))
	})

	d, err := client.GetMarket(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if price, err := d.PriceAt(0); err != nil || price != 0.3 {
		t.Errorf("PriceAt(0) = %v, %v; want 0.3", price, err)
	}
	if _, err := d.PriceAt(1); !errors.Is(err, alert.ErrOutcomeOutOfRange) {
		t.Errorf("PriceAt(1) error = %v, want ErrOutcomeOutOfRange", err)
	}
}

func TestGetMarketErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{"not found", http.StatusNotFound, `{}`, true},
		{"server error", http.StatusInternalServerError, `boom`, false},
		{"bad json", http.StatusOK, `{"id":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.GetMarket(context.Background(), "1")
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, alert.ErrNotFound) != tt.notFound {
				t.Errorf("errors.Is(ErrNotFound) = %v, want %v (err: %v)", !tt.notFound, tt.notFound, err)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{"json string of array", `"[\"Yes\", \"No\"]"`, []string{"Yes", "No"}, false},
		{"array of strings", `["0.25","0.75"]`, []string{"0.25", "0.75"}, false},
		{"array of numbers", `[0.25, 0.75]`, []string{"0.25", "0.75"}, false},
		{"csv string", `"YES, NO"`, []string{"YES", "NO"}, false},
		{"null", `null`, nil, false},
		{"empty", ``, nil, false},
		{"object", `{"a":1}`, nil, true},
		{"array of objects", `[{"a":1}]`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseList(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseList() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseList()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
