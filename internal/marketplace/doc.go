// Package marketplace is the HTTP client for the marketplace backend:
// package metadata, installation registration and the trusted OAuth
// initiation, exchange and refresh endpoints. All secrets stay server-side;
// this client only ever handles authorization codes and issued tokens.
package marketplace
