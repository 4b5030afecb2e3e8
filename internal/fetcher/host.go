package fetcher

import (
	"errors"
	"net/url"
)

// HostFromError pulls the remote host out of a transport failure. net/http
// wraps every client failure in *url.Error carrying the URL it was trying
// to reach — including mid-redirect failures, where the interesting host is
// the one that blocked us, not the one the caller started from. Returns ""
// when the chain holds no usable URL.
func HostFromError(err error) string {
	var uerr *url.Error
	if !errors.As(err, &uerr) || uerr.URL == "" {
		return ""
	}
	u, perr := url.Parse(uerr.URL)
	if perr != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}
