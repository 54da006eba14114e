package access

import "strings"

// Allowlist decides which email addresses may use the application.
type Allowlist struct {
	emails  map[string]struct{}
	domains map[string]struct{}
	devMode bool
}

func New(emails, domains []string, devMode bool) *Allowlist {
	a := &Allowlist{
		emails:  make(map[string]struct{}, len(emails)),
		domains: make(map[string]struct{}, len(domains)),
		devMode: devMode,
	}
	for _, e := range emails {
		if e = normalize(e); e != "" {
			a.emails[e] = struct{}{}
		}
	}
	for _, d := range domains {
		if d = normalize(d); d != "" {
			a.domains[d] = struct{}{}
		}
	}
	return a
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Open reports whether every address is admitted, which is the case only in
// development mode with no lists configured.
func (a *Allowlist) Open() bool {
	return a.devMode && len(a.emails) == 0 && len(a.domains) == 0
}

func (a *Allowlist) Allowed(email string) bool {
	if a.Open() {
		return true
	}

	email = normalize(email)
	if email == "" {
		return false
	}

	if _, ok := a.emails[email]; ok {
		return true
	}

	_, domain, found := strings.Cut(email, "@")
	if !found || domain == "" {
		return false
	}
	_, ok := a.domains[domain]

	return ok
}
