package ra

// StaticAuth offers one fixed username/password pair exactly once, for
// non-interactive callers (cmd/svnupdate, cmd/svncommit) that read
// credentials from a config file rather than prompting. Mirrors the
// one-shot shape package ra's own tests use for staticAuth.
type StaticAuth struct {
	Username, Password string

	offered bool
}

func (a *StaticAuth) Credentials(realm string, attempt int) (string, string, bool) {
	if a.offered {
		return "", "", false
	}
	a.offered = true
	return a.Username, a.Password, true
}

func (a *StaticAuth) OnSuccess(user, pass string) {}

var _ AuthProvider = (*StaticAuth)(nil)
