// Package gateway is the request gateway for the task API.
//
// A Client sends JSON requests with the session credential attached, bounds
// every attempt with a timeout, and classifies failures into the kinds of
// package errors. Each Call follows a fixed sequence:
//
//	send ──(401)──► refresh ──(ok)──► resend ──► settle
//	  │                │                         ▲
//	  └──(other)───────┴──(failed)───────────────┘
//
// A call is resent at most once. The refresh step is shared: however many
// calls hit 401 at the same moment, only one POST /auth/refresh is in flight
// per Client, and every waiting call resumes from its outcome.
//
//	client, _ := gateway.New("https://api.example.com")
//	resp, err := client.Call(ctx, http.MethodGet, "/tasks", nil,
//	    gateway.WithQuery(url.Values{"limit": {"20"}}))
//	if err != nil {
//	    return err
//	}
//	var page tasks.Page
//	err = resp.Decode(&page)
package gateway
