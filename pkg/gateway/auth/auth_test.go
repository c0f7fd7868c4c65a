package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestParseBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		header    string
		wantToken string
		wantOK    bool
	}{
		{name: "valid", header: "Bearer pk_live_abc", wantToken: "pk_live_abc", wantOK: true},
		{name: "padded token", header: "Bearer   pk_live_abc  ", wantToken: "pk_live_abc", wantOK: true},
		{name: "missing header", header: "", wantOK: false},
		{name: "wrong scheme", header: "Basic cGs6c2s=", wantOK: false},
		{name: "bare scheme", header: "Bearer ", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			token, ok := ParseBearer(r)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if token != tt.wantToken {
				t.Fatalf("token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}

func TestMatchKey(t *testing.T) {
	t.Parallel()

	keys := []string{"pk_alpha", "pk_beta_longer"}

	if !MatchKey(keys, "pk_alpha") {
		t.Fatal("expected first key to match")
	}
	if !MatchKey(keys, "pk_beta_longer") {
		t.Fatal("expected second key to match")
	}
	if MatchKey(keys, "pk_gamma") {
		t.Fatal("same-length non-key should not match")
	}
	if MatchKey(keys, "pk_alph") {
		t.Fatal("prefix should not match")
	}
	if MatchKey(nil, "pk_alpha") {
		t.Fatal("empty key set should never match")
	}
	if MatchKey(keys, "") {
		t.Fatal("empty token should never match")
	}
}

func TestPrincipalRoundTrip(t *testing.T) {
	t.Parallel()

	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatal("empty context should carry no principal")
	}

	ctx := WithPrincipal(context.Background(), &Principal{APIKey: "pk_live_abc"})
	p, ok := PrincipalFrom(ctx)
	if !ok {
		t.Fatal("expected principal")
	}
	if p.APIKey != "pk_live_abc" {
		t.Fatalf("APIKey = %q", p.APIKey)
	}
}
