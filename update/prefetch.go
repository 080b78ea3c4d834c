package update

import "github.com/rcowham/svncore/baseline"

// prefetchDir opportunistically issues a depth-1 PROPFIND on an added
// directory's version URL, overlapped with report parsing via the
// session's secondary connection (spec.md §4.5, §5). Results are cached
// into the working copy; failures are logged and otherwise ignored —
// pre-fetching is an optimization, and nothing re-fetches what a failed
// pre-fetch missed.
func (d *Driver) prefetchDir(path, versionURL string) {
	if d.Props == nil || d.Session == nil || d.WC == nil {
		return
	}
	d.Session.SubmitSecondary(func() {
		props, err := d.Props.GetProps(versionURL, baseline.Depth1, "", nil)
		if err != nil {
			d.Logger.WithError(err).WithField("path", path).Debug("opportunistic propfind failed")
			return
		}
		for url, m := range props {
			for name, value := range m {
				client, _ := baseline.TranslateLiveProp(name)
				if err := d.WC.PushWcProp(url, client, value); err != nil {
					d.Logger.WithError(err).Debug("caching prefetched property failed")
				}
			}
		}
	})
}
