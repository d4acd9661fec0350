package oracle

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFeedLatestRound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("missing api key header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"roundId":42,"answer":"200012345678","startedAt":1700000000,"updatedAt":1700000100,"answeredInRound":42}`))
	}))
	defer srv.Close()

	feed, err := NewHTTPFeed(srv.Client(), srv.URL, "secret")
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	round, err := feed.LatestRound()
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.RoundID != 42 || round.AnsweredInRound != 42 {
		t.Fatalf("unexpected round ids: %+v", round)
	}
	if round.Answer.Cmp(big.NewInt(200012345678)) != 0 {
		t.Fatalf("unexpected answer: %s", round.Answer)
	}
	if round.UpdatedAt != 1700000100 {
		t.Fatalf("unexpected updatedAt: %d", round.UpdatedAt)
	}
}

func TestHTTPFeedErrors(t *testing.T) {
	if _, err := NewHTTPFeed(nil, "   ", ""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	feed, err := NewHTTPFeed(srv.Client(), srv.URL, "")
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	if _, err := feed.LatestRound(); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestHTTPFeedInvalidAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"roundId":1,"answer":"not-a-number","updatedAt":1,"answeredInRound":1}`))
	}))
	defer srv.Close()

	feed, err := NewHTTPFeed(srv.Client(), srv.URL, "")
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	if _, err := feed.LatestRound(); err == nil {
		t.Fatal("expected error for malformed answer")
	}
}
