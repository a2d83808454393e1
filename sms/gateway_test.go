package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMobizonSend(t *testing.T) {
	var gotRecipient, gotText, gotKey, gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotRecipient = r.FormValue("recipient")
		gotText = r.FormValue("text")
		gotKey = r.FormValue("apiKey")
		gotFrom = r.FormValue("from")
		_, _ = w.Write([]byte(`{"code":0,"data":{"messageId":"m1"}}`))
	}))
	t.Cleanup(srv.Close)

	client := NewMobizonClient(MobizonConfig{
		APIKey:     "k1",
		SenderID:   "ADMIN",
		SendURL:    srv.URL,
		HTTPClient: srv.Client(),
	})

	if err := client.Send(context.Background(), "+77011234455", "code 123456"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotRecipient != "+77011234455" || gotText != "code 123456" || gotKey != "k1" || gotFrom != "ADMIN" {
		t.Fatalf("form = recipient %q text %q key %q from %q", gotRecipient, gotText, gotKey, gotFrom)
	}
}

func TestMobizonProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":5}`))
	}))
	t.Cleanup(srv.Close)

	client := NewMobizonClient(MobizonConfig{APIKey: "k1", SendURL: srv.URL, HTTPClient: srv.Client()})
	if err := client.Send(context.Background(), "+7", "x"); !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
}

func TestMobizonHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewMobizonClient(MobizonConfig{APIKey: "k1", SendURL: srv.URL, HTTPClient: srv.Client()})
	if err := client.Send(context.Background(), "+7", "x"); !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
}

func TestMobizonDryRunSkipsHTTP(t *testing.T) {
	client := NewMobizonClient(MobizonConfig{DryRun: true, SendURL: "http://127.0.0.1:0"})
	if err := client.Send(context.Background(), "+7", "x"); err != nil {
		t.Fatalf("dry-run send: %v", err)
	}

	// Missing API key implies dry-run too.
	client = NewMobizonClient(MobizonConfig{SendURL: "http://127.0.0.1:0"})
	if err := client.Send(context.Background(), "+7", "x"); err != nil {
		t.Fatalf("keyless send: %v", err)
	}
}

func TestMaskPhone(t *testing.T) {
	cases := []struct{ in, want string }{
		{"+77011234455", "+7********55"},
		{"87011234455", "*********55"},
		{"+1", "****"},
		{"", "****"},
	}
	for _, tc := range cases {
		if got := MaskPhone(tc.in); got != tc.want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
