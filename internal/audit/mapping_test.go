package audit

import "testing"

func TestParseRoute(t *testing.T) {
	tests := []struct {
		pattern  string
		action   string
		resource string
	}{
		{"POST /api/auth/login", "login", "session"},
		{"POST /api/payments/{id}/refund", "refund", "payment"},
		{"POST /api/enrollments", "create", "enrollment"},
		{"GET /api/enrollments", "list", "enrollment"},
		{"GET /api/enrollments/{id}", "get", "enrollment"},
		{"PATCH /api/enrollments/{id}/progress", "progress", "enrollment"},
		{"DELETE /api/courses/{id}", "delete", "course"},
		{"GET /api/categories", "list", "category"},
		{"POST /", "create", "unknown"},
		{"nospace", "unknown", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got := ParseRoute(tt.pattern)
			if got.Action != tt.action || got.Resource != tt.resource {
				t.Errorf("ParseRoute(%q) = %+v, want action=%q resource=%q", tt.pattern, got, tt.action, tt.resource)
			}
		})
	}
}
