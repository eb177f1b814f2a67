package geo

import "testing"

func TestDisabledResolver(t *testing.T) {
	r := NewResolver("", nil)
	if r.Enabled() {
		t.Error("resolver enabled without a database")
	}
	if got := r.Country("8.8.8.8"); got != "" {
		t.Errorf("Country = %q, want empty", got)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMissingDatabaseDisables(t *testing.T) {
	r := NewResolver("/nonexistent/GeoLite2-Country.mmdb", nil)
	if r.Enabled() {
		t.Error("resolver enabled with an unreadable database")
	}
	if got := r.Country("1.1.1.1"); got != "" {
		t.Errorf("Country = %q, want empty", got)
	}
}

func TestFlag(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"DE", "\U0001F1E9\U0001F1EA"},
		{"nl", "\U0001F1F3\U0001F1F1"},
		{"", ""},
		{"ZZZ", "ZZZ"},
	}
	for _, tt := range tests {
		if got := Flag(tt.code); got != tt.want {
			t.Errorf("Flag(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
