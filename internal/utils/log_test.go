package utils

import "testing"

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		input string
		limit int
		want  string
	}{
		"non-positive limit": {input: "bad gateway", limit: 0, want: ""},
		"fits":               {input: "bad gateway", limit: 20, want: "bad gateway"},
		"cut":                {input: "bad gateway", limit: 3, want: "bad..."},
		"multi-line body":    {input: "<html>\n  <body>502</body>\n</html>\n", limit: 100, want: "<html> <body>502</body> </html>"},
		"cut counts runes":   {input: "отказ сервиса", limit: 5, want: "отказ..."},
		"surrounding spaces": {input: "  stage_order_failed  ", limit: 5, want: "stage..."},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
