package memory

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		name   string
		region string
		want   string
	}{
		{"Grandview", "TX", "grandview_tx"},
		{"grandview", "tx", "grandview_tx"},
		{"  Grandview  ", " TX ", "grandview_tx"},
		{"City of Coachella", "CA", "city_of_coachella_ca"},
		{"San Luis Obispo", "", "san_luis_obispo"},
		{"O'Fallon", "MO", "o_fallon_mo"},
		{"", "", ""},
		{"---", "", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.name, tt.region); got != tt.want {
			t.Errorf("Slugify(%q, %q) = %q, want %q", tt.name, tt.region, got, tt.want)
		}
	}
}

func TestNormalizeAttribute(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Mayor", "mayor"},
		{" water funding status ", "water_funding_status"},
		{"chromium-6 level", "chromium_6_level"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAttribute(tt.in); got != tt.want {
			t.Errorf("NormalizeAttribute(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
