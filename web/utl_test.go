package web

import (
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	tt := []struct {
		name   string
		header string
		target string
		want   string
	}{
		{name: "header", header: "Bearer abc123", target: "/api/me", want: "abc123"},
		{name: "query fallback", target: "/ws?token=abc123", want: "abc123"},
		{name: "header wins", header: "Bearer from-header", target: "/ws?token=from-query", want: "from-header"},
		{name: "wrong scheme", header: "Basic abc123", target: "/api/me", want: ""},
		{name: "anonymous", target: "/api/me", want: ""},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.target, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if got := bearerToken(r); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParsePageArgs(t *testing.T) {
	tt := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{name: "empty", target: "/api/conversations"},
		{name: "forward", target: "/api/conversations?first=20&after=abc"},
		{name: "backwards", target: "/api/conversations?last=20&before=abc"},
		{name: "both directions", target: "/api/conversations?first=10&last=10", wantErr: true},
		{name: "not a number", target: "/api/conversations?first=twenty", wantErr: true},
		{name: "zero", target: "/api/conversations?first=0", wantErr: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.target, nil)
			_, err := parsePageArgs(r)
			if gotErr := err != nil; gotErr != tc.wantErr {
				t.Errorf("got error %v, want error %v", err, tc.wantErr)
			}
		})
	}

	t.Run("values carried", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/conversations?first=20&after=cursor-1", nil)
		args, err := parsePageArgs(r)
		if err != nil {
			t.Fatal(err)
		}
		if args.First == nil || *args.First != 20 {
			t.Errorf("got first %v, want 20", args.First)
		}
		if args.After == nil || *args.After != "cursor-1" {
			t.Errorf("got after %v, want cursor-1", args.After)
		}
	})
}
