//go:build !unix

package config

import "context"

// WatchSignals is a no-op where SIGHUP does not exist.
func (h *Holder) WatchSignals(context.Context) {}
