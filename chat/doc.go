// Package chat manages the relay's connections to chat networks.
//
// A Manager owns one session per configured server and drives its state
// machine:
//
//	disconnected -> connecting -> connected
//	connected -> disconnected      (connection lost, client retries)
//	any -> failed                  (client gave up)
//	any -> aborted                 (operator disconnect)
//	aborted -> connecting          (operator reconnect only)
//
// Sessions join their configured channels once registered and keep track of
// which channels they are in, so names joined on several servers can be
// qualified with the server name. Every protocol signal is handed to the
// ingest normalizer on the relay loop together with the session's server and
// current nickname.
//
// TwitchClient implements Client on top of go-twitch-irc with reconnect
// backoff. Tokens are taken from the server config and can be replaced with
// SetToken; the new token is used on the next connection.
package chat
