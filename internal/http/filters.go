package httpx

import (
	"net/http"
	"strings"

	"github.com/dxpops/conductor/internal/domain/model"
)

// jobFilterFromQuery builds a JobFilter from ?kind=&status=a,b&tenant=&active=&limit=&offset=.
func jobFilterFromQuery(r *http.Request) model.JobFilter {
	q := r.URL.Query()
	limit, offset := ParseLimitOffset(r, 100, 1000)
	f := model.JobFilter{
		Kind:       model.JobKind(strings.TrimSpace(q.Get("kind"))),
		Tenant:     strings.TrimSpace(q.Get("tenant")),
		ActiveOnly: parseBoolQuery(r, "active", false),
		Limit:      limit,
		Offset:     offset,
	}
	for _, s := range splitList(q.Get("status")) {
		f.Statuses = append(f.Statuses, model.JobStatus(s))
	}
	return f
}

// auditFilterFromQuery builds an AuditFilter from ?from=&to=&operation=&kind=&tenant=&status=.
// Limit is left for the recorder to default and clamp.
func auditFilterFromQuery(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		return model.AuditFilter{}, err
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		return model.AuditFilter{}, err
	}
	return model.AuditFilter{
		From:      from,
		To:        to,
		Operation: strings.TrimSpace(q.Get("operation")),
		Kind:      strings.TrimSpace(q.Get("kind")),
		Tenant:    strings.TrimSpace(q.Get("tenant")),
		Status:    model.AuditStatus(strings.TrimSpace(q.Get("status"))),
		Limit:     parseIntQuery(r, "limit", 0),
		Offset:    max(parseIntQuery(r, "offset", 0), 0),
	}, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
