package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route pattern.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides where the path alone does not name the action well.
var routeOverrides = map[string]ActionResource{
	"POST /api/auth/login":              {Action: "login", Resource: "session"},
	"POST /api/auth/logout":             {Action: "logout", Resource: "session"},
	"POST /api/auth/refresh":            {Action: "refresh", Resource: "session"},
	"POST /api/payments/webhook":        {Action: "confirm", Resource: "payment"},
	"POST /api/payments/checkout":       {Action: "checkout", Resource: "payment"},
	"POST /api/payments/{id}/refund":    {Action: "refund", Resource: "payment"},
	"POST /api/payments/{id}/sync":      {Action: "sync", Resource: "payment"},
	"POST /api/enrollments/{id}/cancel": {Action: "cancel", Resource: "enrollment"},
}

// ParseRoute returns action and resource for a ServeMux pattern such as
// "PATCH /api/enrollments/{id}/progress". Resource is the singular of the first
// path segment after /api; action comes from the method or a trailing verb segment.
func ParseRoute(pattern string) ActionResource {
	if ar, ok := routeOverrides[pattern]; ok {
		return ar
	}
	method, path, ok := strings.Cut(pattern, " ")
	if !ok {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	var segs []string
	for _, s := range strings.Split(strings.Trim(path, "/"), "/") {
		if s != "" && s != "api" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return ActionResource{Action: methodToAction(method, false), Resource: "unknown"}
	}
	resource := singular(segs[0])
	last := segs[len(segs)-1]
	if len(segs) > 1 && !isWildcard(last) {
		return ActionResource{Action: last, Resource: resource}
	}
	return ActionResource{Action: methodToAction(method, isWildcard(last)), Resource: resource}
}

func methodToAction(method string, item bool) string {
	switch strings.ToUpper(method) {
	case "GET":
		if item {
			return "get"
		}
		return "list"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

func isWildcard(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

func singular(s string) string {
	if strings.HasSuffix(s, "ies") {
		return strings.TrimSuffix(s, "ies") + "y"
	}
	return strings.TrimSuffix(s, "s")
}
