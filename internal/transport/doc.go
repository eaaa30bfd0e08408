// Package transport binds shell sessions to network protocols.
//
// Each Listener accepts connections for one protocol and hands every
// connection to a session.Dispatcher:
//
//   - telnet: line-oriented sessions over github.com/ziutek/telnet
//   - ssh: interactive shells and one-shot exec requests over
//     golang.org/x/crypto/ssh, with line editing from golang.org/x/term
//   - http: a JSON API (POST /exec, GET /commands, GET /health, session
//     management, an SSE event stream) routed by chi, plus GET /ws
//   - websocket: GET /ws only, one line per text frame
//
// Listeners add no authentication. Bind retries an address that is still
// in use with exponential backoff before giving up.
package transport
