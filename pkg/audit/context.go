package audit

import "context"

// RequestInfo carries caller metadata that every event of a request shares
type RequestInfo struct {
	UserEmail string
	IPAddress string
	UserAgent string
	SessionID string
}

type requestInfoKey struct{}

// WithRequestInfo attaches request metadata to ctx
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the request metadata attached to ctx, if any
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

// fillFromContext copies request metadata into fields the event left empty
func fillFromContext(ctx context.Context, ev *Event) {
	info, ok := RequestInfoFrom(ctx)
	if !ok {
		return
	}
	if ev.UserEmail == "" {
		ev.UserEmail = info.UserEmail
	}
	if ev.IPAddress == "" {
		ev.IPAddress = info.IPAddress
	}
	if ev.UserAgent == "" {
		ev.UserAgent = info.UserAgent
	}
	if ev.SessionID == "" {
		ev.SessionID = info.SessionID
	}
}
