package catalog

import "errors"

var (
	// ErrMalformedLocator is local and non-fatal, the offending sitemap entry is skipped.
	ErrMalformedLocator = errors.New("malformed locator")

	// ErrSitemapUnavailable and ErrSitemapMalformed are run-fatal, no partial sitemap is trusted.
	ErrSitemapUnavailable = errors.New("sitemap unavailable")
	ErrSitemapMalformed   = errors.New("sitemap malformed")

	// ErrFetchTransient is retried until the retry budget runs out.
	ErrFetchTransient = errors.New("transient fetch error")
	// ErrFetchPermanent is never retried.
	ErrFetchPermanent = errors.New("permanent fetch error")
	// ErrUnparsablePage is a page that loads but cannot be understood, it is permanent.
	ErrUnparsablePage = errors.New("unparsable page")
	// ErrFetchFailed is the terminal per-key failure reported in a run summary.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrStoreCorruption is fatal, nothing is upserted onto an inconsistent base.
	ErrStoreCorruption = errors.New("store corruption")
	// ErrStoreLocked means another run holds the store.
	ErrStoreLocked = errors.New("store locked by another run")
)

// IsFatal reports whether err must abort a run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSitemapUnavailable) ||
		errors.Is(err, ErrSitemapMalformed) ||
		errors.Is(err, ErrStoreCorruption) ||
		errors.Is(err, ErrStoreLocked)
}
