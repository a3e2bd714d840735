// Package credurl embeds and removes bearer credentials
// in https remote URLs. Each git hosting platform has
// its own userinfo convention for token authentication;
// the Hosting enum selects it through a dispatch table.
//
// Inject and Strip are total and reversible:
// Strip(Inject(u, tok, h)) == Normalize(u) for any
// https URL u.
package credurl
