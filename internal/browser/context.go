package browser

import "context"

// CombineContext returns a context derived from primary that is also
// cancelled when secondary ends. Values, including the chromedp target, come
// from primary; secondary only contributes its deadline or cancellation.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
